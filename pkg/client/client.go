// Package client implements the gateway client: coordinator discovery
// through the registry, the authenticated coordinator API, and an
// offline queue that preserves transaction IDs across retries.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mnohosten/bridgepay/pkg/registry"
	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Client talks to the coordinator resolved through the service
// registry. It holds the bearer token and the logged-in identity.
type Client struct {
	reg *registry.Client
	hc  *http.Client

	mu      sync.Mutex
	baseURL string
	token   string
	bank    string
	user    string
}

// New creates a client against the given registry address. A nil
// http.Client gets a pooled default with a 30s request timeout.
func New(registryAddr string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxConnsPerHost:     10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{reg: registry.NewClient(registryAddr), hc: hc}
}

// coordinatorURL resolves (and caches) the coordinator address.
func (c *Client) coordinatorURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.baseURL
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	addr, err := c.reg.Lookup(ctx, registry.ServiceCoordinator)
	if err != nil {
		if wire.CodeOf(err) == wire.CodeUnknownService {
			return "", wire.Errorf(wire.CodeUnavailable, "no coordinator registered")
		}
		return "", err
	}
	c.mu.Lock()
	c.baseURL = addr
	c.mu.Unlock()
	return addr, nil
}

// forgetCoordinator drops the cached address so the next call resolves
// afresh; the coordinator may have come back on a different port.
func (c *Client) forgetCoordinator() {
	c.mu.Lock()
	c.baseURL = ""
	c.mu.Unlock()
}

// Login authenticates against the coordinator and stores the returned
// bearer token together with the identity it is bound to.
func (c *Client) Login(ctx context.Context, bank, username, password string) error {
	var resp wire.LoginResponse
	err := c.do(ctx, http.MethodPost, "/v1/login",
		wire.LoginRequest{Bank: bank, Username: username, Password: password}, &resp)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = resp.Token
	c.bank = bank
	c.user = username
	c.mu.Unlock()
	return nil
}

// LoggedIn reports whether a login has succeeded on this client.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// Identity returns the logged-in (bank, username) pair.
func (c *Client) Identity() (bank, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bank, c.user
}

// NewTransfer builds a transfer request from the logged-in identity
// with a freshly allocated transaction ID. The ID stays stable for the
// lifetime of the request, across any number of retries.
func (c *Client) NewTransfer(dstBank, dstUser string, amount int64) wire.TransferRequest {
	bank, user := c.Identity()
	return wire.TransferRequest{
		TxID:    txid.New(),
		SrcBank: bank,
		SrcUser: user,
		DstBank: dstBank,
		DstUser: dstUser,
		Amount:  amount,
	}
}

// Transfer submits one transfer and waits for its terminal outcome.
func (c *Client) Transfer(ctx context.Context, req wire.TransferRequest) (wire.TransferResult, error) {
	var result wire.TransferResult
	err := c.do(ctx, http.MethodPost, "/v1/transfer", req, &result)
	return result, err
}

// Balance reads the logged-in user's balance.
func (c *Client) Balance(ctx context.Context) (wire.BalanceResponse, error) {
	var resp wire.BalanceResponse
	err := c.do(ctx, http.MethodGet, "/v1/balance", nil, &resp)
	return resp, err
}

// History reads the logged-in user's committed transfers.
func (c *Client) History(ctx context.Context) ([]wire.HistoryRecord, error) {
	var resp wire.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Ping checks whether the coordinator is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/ping", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, target interface{}) error {
	base, err := c.coordinatorURL(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.hc.Do(req)
	if err != nil {
		c.forgetCoordinator()
		if errors.Is(err, context.DeadlineExceeded) {
			return wire.Errorf(wire.CodeTimeout, "coordinator: "+err.Error())
		}
		return wire.Errorf(wire.CodeUnavailable, "coordinator: "+err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.forgetCoordinator()
		return wire.Errorf(wire.CodeUnavailable, "coordinator: "+err.Error())
	}
	return wire.DecodeResponse(data, target)
}

// Offline reports whether an error means the coordinator could not be
// reached at all, as opposed to a definitive answer.
func Offline(err error) bool {
	code := wire.CodeOf(err)
	return code == wire.CodeUnavailable || code == wire.CodeTimeout
}
