// Package bankhttp exposes a bank ledger over the gateway's HTTP/JSON
// protocol: authentication, the prepare/commit/abort verbs, and the
// balance/history reads.
package bankhttp

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/bank"
	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Handlers serves the participant API over a ledger.
type Handlers struct {
	ledger *bank.Ledger
	logger *zap.Logger
}

// NewHandlers creates the participant HTTP handlers.
func NewHandlers(ledger *bank.Ledger, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{ledger: ledger, logger: logger}
}

// Router builds the chi router for the participant API.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		wire.WriteResult(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/authenticate", h.authenticate)
		r.Post("/prepare/debit", h.prepareDebit)
		r.Post("/prepare/credit", h.prepareCredit)
		r.Post("/commit/debit", h.commitDebit)
		r.Post("/commit/credit", h.commitCredit)
		r.Post("/abort/debit", h.abortDebit)
		r.Post("/abort/credit", h.abortCredit)
		r.Get("/balance", h.balance)
		r.Get("/history", h.history)
	})
	return r
}

// mapError converts ledger errors to wire errors.
func mapError(err error) *wire.Error {
	var dup *bank.DuplicateTxnError
	switch {
	case errors.As(err, &dup):
		return &wire.Error{Code: wire.CodeDuplicateTxn, Message: err.Error(), State: dup.State}
	case errors.Is(err, bank.ErrUnknownUser):
		return wire.Errorf(wire.CodeUnknownUser, err.Error())
	case errors.Is(err, bank.ErrBadPassword):
		return wire.Errorf(wire.CodeAuthFailed, err.Error())
	case errors.Is(err, bank.ErrInsufficientFunds):
		return wire.Errorf(wire.CodeInsufficientFunds, err.Error())
	case errors.Is(err, bank.ErrConflictingHold):
		return wire.Errorf(wire.CodeConflictingHold, err.Error())
	case errors.Is(err, bank.ErrUnknownTxn):
		return wire.Errorf(wire.CodeUnknownTxn, err.Error())
	case errors.Is(err, bank.ErrNotPrepared):
		return wire.Errorf(wire.CodeNotPrepared, err.Error())
	default:
		return wire.Errorf(wire.CodeInternal, err.Error())
	}
}

func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) {
	var req wire.AuthRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}
	if err := h.ledger.Authenticate(req.Username, req.Password); err != nil {
		wire.WriteError(w, mapError(err))
		return
	}
	wire.WriteResult(w, http.StatusOK, nil)
}

func (h *Handlers) prepareDebit(w http.ResponseWriter, r *http.Request) {
	h.prepare(w, r, h.ledger.PrepareDebit)
}

func (h *Handlers) prepareCredit(w http.ResponseWriter, r *http.Request) {
	h.prepare(w, r, h.ledger.PrepareCredit)
}

func (h *Handlers) prepare(w http.ResponseWriter, r *http.Request, op func(wire.PrepareRequest) error) {
	var req wire.PrepareRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}
	if req.TxID.IsZero() {
		wire.WriteError(w, wire.Errorf(wire.CodeInternal, "missing txid"))
		return
	}
	if err := op(req); err != nil {
		h.logger.Info("prepare rejected",
			zap.String("txid", req.TxID.String()),
			zap.String("user", req.Username),
			zap.Error(err))
		wire.WriteError(w, mapError(err))
		return
	}
	wire.WriteResult(w, http.StatusOK, map[string]bool{"prepared": true})
}

func (h *Handlers) commitDebit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.ledger.CommitDebit)
}

func (h *Handlers) commitCredit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.ledger.CommitCredit)
}

func (h *Handlers) finish(w http.ResponseWriter, r *http.Request, op func(txid.TxID) error) {
	var req wire.FinishRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}
	if err := op(req.TxID); err != nil {
		wire.WriteError(w, mapError(err))
		return
	}
	wire.WriteResult(w, http.StatusOK, nil)
}

func (h *Handlers) abortDebit(w http.ResponseWriter, r *http.Request) {
	h.abort(w, r, h.ledger.AbortDebit)
}

func (h *Handlers) abortCredit(w http.ResponseWriter, r *http.Request) {
	h.abort(w, r, h.ledger.AbortCredit)
}

func (h *Handlers) abort(w http.ResponseWriter, r *http.Request, op func(txid.TxID)) {
	var req wire.FinishRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}
	op(req.TxID)
	wire.WriteResult(w, http.StatusOK, nil)
}

func (h *Handlers) balance(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	balance, err := h.ledger.Balance(user)
	if err != nil {
		wire.WriteError(w, mapError(err))
		return
	}
	wire.WriteResult(w, http.StatusOK, wire.BalanceResponse{Username: user, Balance: balance})
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	records, err := h.ledger.History(user)
	if err != nil {
		wire.WriteError(w, mapError(err))
		return
	}
	wire.WriteResult(w, http.StatusOK, wire.HistoryResponse{Username: user, Records: records})
}
