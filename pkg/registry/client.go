package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Well-known service names.
const (
	ServiceCoordinator = "coordinator"
	bankPrefix         = "bank/"
)

// BankService returns the registry name for a bank participant.
func BankService(bank string) string {
	return bankPrefix + bank
}

// Client talks to a registry server.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient creates a registry client for the given base URL
// (e.g. "http://localhost:7400").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Register publishes a service address under name.
func (c *Client) Register(ctx context.Context, name, addr string) error {
	body, err := json.Marshal(putRequest{Addr: addr})
	if err != nil {
		return fmt.Errorf("encode register request: %w", err)
	}
	return c.do(ctx, http.MethodPut, "/v1/services/"+name, bytes.NewReader(body), nil)
}

// Deregister removes a service entry.
func (c *Client) Deregister(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/services/"+name, nil, nil)
}

// Lookup resolves a service name to its registered address.
func (c *Client) Lookup(ctx context.Context, name string) (string, error) {
	var e Entry
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+name, nil, &e); err != nil {
		return "", err
	}
	return e.Addr, nil
}

// Ping checks that the registry itself is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create registry request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &wire.Error{Code: wire.CodeUnavailable, Message: "registry unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read registry response: %w", err)
	}
	return wire.DecodeResponse(data, target)
}
