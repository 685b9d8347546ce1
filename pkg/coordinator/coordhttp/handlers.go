// Package coordhttp exposes the transaction coordinator over HTTP/JSON:
// login, transfer submission, balance/history proxying, and a websocket
// feed of terminal transfer outcomes.
package coordhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/coordinator"
	"github.com/mnohosten/bridgepay/pkg/token"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

type subjectKey struct{}

// Handlers serves the coordinator API.
type Handlers struct {
	engine   *coordinator.Engine
	issuer   *token.Issuer
	resolver coordinator.Resolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandlers creates the coordinator HTTP handlers.
func NewHandlers(engine *coordinator.Engine, issuer *token.Issuer, resolver coordinator.Resolver, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		engine:   engine,
		issuer:   issuer,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the chi router for the coordinator API.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		wire.WriteResult(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		wire.WriteResult(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)
		r.Post("/v1/transfer", h.transfer)
		r.Get("/v1/balance", h.balance)
		r.Get("/v1/history", h.history)
		r.Get("/v1/events", h.events)
	})
	return r
}

// requireToken authenticates the bearer token and stores the bound
// subject in the request context.
func (h *Handlers) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			wire.WriteError(w, wire.Errorf(wire.CodeUnauthorized, "missing bearer token"))
			return
		}
		sub, err := h.issuer.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			wire.WriteError(w, wire.Errorf(wire.CodeUnauthorized, err.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
	})
}

func subjectFrom(r *http.Request) token.Subject {
	sub, _ := r.Context().Value(subjectKey{}).(token.Subject)
	return sub
}

// login verifies credentials against the user's own bank and mints a
// bearer token bound to (bank, username).
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}
	if req.Bank == "" || req.Username == "" {
		wire.WriteError(w, wire.Errorf(wire.CodeInternal, "bank and username are required"))
		return
	}

	p, err := h.resolver.Participant(r.Context(), req.Bank)
	if err != nil {
		if wire.CodeOf(err) == wire.CodeUnknownService {
			wire.WriteError(w, wire.Errorf(wire.CodeUnknownBank, "no such bank: "+req.Bank))
			return
		}
		wire.WriteError(w, err)
		return
	}
	if err := p.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		wire.WriteError(w, err)
		return
	}

	tok, err := h.issuer.Mint(token.Subject{Bank: req.Bank, Username: req.Username})
	if err != nil {
		wire.WriteError(w, wire.Errorf(wire.CodeInternal, err.Error()))
		return
	}
	h.logger.Info("login", zap.String("subject", req.Bank+"/"+req.Username))
	wire.WriteResult(w, http.StatusOK, wire.LoginResponse{Token: tok})
}

// transfer submits one funds transfer. The token subject must own the
// source account.
func (h *Handlers) transfer(w http.ResponseWriter, r *http.Request) {
	var req wire.TransferRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}

	sub := subjectFrom(r)
	if req.SrcBank != sub.Bank || req.SrcUser != sub.Username {
		wire.WriteError(w, wire.Errorf(wire.CodeUnauthorized,
			"token subject "+sub.String()+" does not own the source account"))
		return
	}

	result, err := h.engine.Transfer(r.Context(), req)
	if err != nil {
		wire.WriteError(w, err)
		return
	}
	wire.WriteResult(w, http.StatusOK, result)
}

// balance proxies the balance read to the subject's own bank.
func (h *Handlers) balance(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)
	p, err := h.resolver.Participant(r.Context(), sub.Bank)
	if err != nil {
		wire.WriteError(w, err)
		return
	}
	balance, err := p.Balance(r.Context(), sub.Username)
	if err != nil {
		wire.WriteError(w, err)
		return
	}
	wire.WriteResult(w, http.StatusOK, wire.BalanceResponse{Username: sub.Username, Balance: balance})
}

// history proxies the history read to the subject's own bank.
func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)
	p, err := h.resolver.Participant(r.Context(), sub.Bank)
	if err != nil {
		wire.WriteError(w, err)
		return
	}
	records, err := p.History(r.Context(), sub.Username)
	if err != nil {
		wire.WriteError(w, err)
		return
	}
	wire.WriteResult(w, http.StatusOK, wire.HistoryResponse{Username: sub.Username, Records: records})
}

// events streams terminal transfer outcomes over a websocket until the
// peer disconnects.
func (h *Handlers) events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.engine.Events().Subscribe()
	defer h.engine.Events().Unsubscribe(ch)

	// Drain the read side so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
