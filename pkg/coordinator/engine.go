package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

const deliveryAttemptTimeout = 10 * time.Second

// Config configures the 2PC engine.
type Config struct {
	// Timeout2PC bounds the whole prepare phase of one transfer.
	Timeout2PC time.Duration
	// CommitBackoffMax caps the exponential backoff between
	// commit/abort delivery retries.
	CommitBackoffMax time.Duration
	// LogDir is the directory of the durable decision log.
	LogDir string
	// Resolver resolves bank names to participants.
	Resolver Resolver
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Engine drives two-phase commit across two bank participants and
// guarantees idempotency per txid via the registry and decision log.
type Engine struct {
	cfg      Config
	registry *Registry
	log      *DecisionLog
	hub      *Hub
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine opens the decision log, rebuilds the registry from it, and
// launches a best-effort abort sweep for transactions that were still
// in flight when the previous process died.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout2PC <= 0 {
		return nil, fmt.Errorf("2pc timeout must be positive")
	}

	log, err := OpenDecisionLog(cfg.LogDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		registry: NewRegistry(),
		log:      log,
		hub:      NewHub(),
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := e.recover(); err != nil {
		cancel()
		log.Close()
		return nil, err
	}
	return e, nil
}

// Registry exposes the idempotency registry, mainly for tests.
func (e *Engine) Registry() *Registry { return e.registry }

// Events exposes the terminal-outcome event hub.
func (e *Engine) Events() *Hub { return e.hub }

// Close stops background deliveries and closes the decision log.
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()
	return e.log.Close()
}

// recover replays the decision log. Terminal records repopulate the
// registry; in-flight records without a terminal record belong to a
// previous process and are treated as aborted, with a best-effort
// abort broadcast to their last-known participants.
func (e *Engine) recover() error {
	last := make(map[txid.TxID]Record)
	order := make([]txid.TxID, 0)
	err := e.log.Replay(func(rec Record) error {
		if _, seen := last[rec.TxID]; !seen {
			order = append(order, rec.TxID)
		}
		last[rec.TxID] = rec
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay decision log: %w", err)
	}

	for _, id := range order {
		rec := last[id]
		switch rec.State {
		case wire.StatusCommitted:
			e.registry.Override(id, StateCommitted, wire.TransferResult{TxID: id, Status: wire.StatusCommitted})
		case wire.StatusAborted:
			e.registry.Override(id, StateAborted, wire.TransferResult{TxID: id, Status: wire.StatusAborted, Reason: rec.Reason})
		case wire.StatusInFlight:
			e.logger.Warn("orphaned in-flight transaction from previous run",
				zap.String("txid", id.String()))
			result := wire.TransferResult{TxID: id, Status: wire.StatusAborted, Reason: "aborted: coordinator restart"}
			if err := e.log.Append(Record{
				TxID: id, State: wire.StatusAborted,
				SrcBank: rec.SrcBank, SrcUser: rec.SrcUser,
				DstBank: rec.DstBank, DstUser: rec.DstUser,
				Amount: rec.Amount, Reason: result.Reason, TS: time.Now(),
			}); err != nil {
				return err
			}
			e.registry.Override(id, StateAborted, result)
			e.sweepOrphan(rec)
		}
	}
	return nil
}

// sweepOrphan sends best-effort aborts for an orphaned transaction.
func (e *Engine) sweepOrphan(rec Record) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, deliveryAttemptTimeout)
		defer cancel()

		if p, err := e.cfg.Resolver.Participant(ctx, rec.SrcBank); err == nil {
			if err := p.AbortDebit(ctx, rec.TxID); err != nil {
				e.logger.Warn("orphan abort (debit) failed; hold will expire",
					zap.String("txid", rec.TxID.String()), zap.Error(err))
			}
		}
		if p, err := e.cfg.Resolver.Participant(ctx, rec.DstBank); err == nil {
			if err := p.AbortCredit(ctx, rec.TxID); err != nil {
				e.logger.Warn("orphan abort (credit) failed; hold will expire",
					zap.String("txid", rec.TxID.String()), zap.Error(err))
			}
		}
	}()
}

// Transfer executes one funds transfer. Resubmitting the same txid any
// number of times yields exactly one balance change and the same
// terminal outcome.
func (e *Engine) Transfer(ctx context.Context, req wire.TransferRequest) (wire.TransferResult, error) {
	if req.TxID.IsZero() {
		return wire.TransferResult{}, wire.Errorf(wire.CodeInternal, "missing txid")
	}
	if req.Amount <= 0 {
		return wire.TransferResult{}, wire.Errorf(wire.CodeInternal, "amount must be positive")
	}

	entry, existing := e.registry.Begin(req)
	if existing {
		if entry.State.Terminal() {
			// Replay the cached terminal result; no side effects.
			return entry.Result, nil
		}
		return wire.TransferResult{}, &wire.Error{
			Code:    wire.CodeDuplicateTxn,
			State:   wire.StatusInFlight,
			Message: "transfer already in flight",
		}
	}

	// Resolve both participants before anything is logged: a transfer
	// that cannot even begin leaves no registry entry.
	src, err := e.cfg.Resolver.Participant(ctx, req.SrcBank)
	if err != nil {
		e.registry.Remove(req.TxID)
		return wire.TransferResult{}, wire.Errorf(wire.CodeUnavailable, "source bank: "+err.Error())
	}
	dst, err := e.cfg.Resolver.Participant(ctx, req.DstBank)
	if err != nil {
		e.registry.Remove(req.TxID)
		return wire.TransferResult{}, wire.Errorf(wire.CodeUnavailable, "destination bank: "+err.Error())
	}

	if err := e.log.Append(e.record(req, wire.StatusInFlight, "")); err != nil {
		e.registry.Remove(req.TxID)
		return wire.TransferResult{}, wire.Errorf(wire.CodeInternal, "decision log: "+err.Error())
	}

	debitErr, creditErr := e.preparePhase(ctx, req, src, dst)

	if debitErr == nil && creditErr == nil {
		return e.commitPhase(req, src, dst)
	}
	return e.abortPhase(req, src, dst, debitErr, creditErr,
		"prepare_failed: "+prepareFailure(debitErr, creditErr))
}

// preparePhase dispatches both prepares in parallel under one deadline.
func (e *Engine) preparePhase(ctx context.Context, req wire.TransferRequest, src, dst Participant) (debitErr, creditErr error) {
	prepCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout2PC)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		debitErr = src.PrepareDebit(prepCtx, wire.PrepareRequest{
			TxID:             req.TxID,
			Username:         req.SrcUser,
			Amount:           req.Amount,
			CounterpartyBank: req.DstBank,
			CounterpartyUser: req.DstUser,
		})
	}()
	go func() {
		defer wg.Done()
		creditErr = dst.PrepareCredit(prepCtx, wire.PrepareRequest{
			TxID:             req.TxID,
			Username:         req.DstUser,
			Amount:           req.Amount,
			CounterpartyBank: req.SrcBank,
			CounterpartyUser: req.SrcUser,
		})
	}()
	wg.Wait()
	return debitErr, creditErr
}

// commitPhase persists the commit decision and delivers it to both
// participants. The decision is durable before the client sees it;
// delivery failures are retried, never surfaced.
func (e *Engine) commitPhase(req wire.TransferRequest, src, dst Participant) (wire.TransferResult, error) {
	result := wire.TransferResult{TxID: req.TxID, Status: wire.StatusCommitted}

	if err := e.log.Append(e.record(req, wire.StatusCommitted, "")); err != nil {
		// Cannot make the decision durable: abort instead. Both sides
		// prepared, so the reason names the log, not the prepares.
		e.logger.Error("decision log append failed, aborting", zap.Error(err))
		return e.abortPhase(req, src, dst, nil, nil, "decision_log: "+wire.CodeInternal)
	}
	e.registry.Complete(req.TxID, StateCommitted, result)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.deliver(req, "commit_debit", func(ctx context.Context) error { return src.CommitDebit(ctx, req.TxID) })
	}()
	go func() {
		defer wg.Done()
		e.deliver(req, "commit_credit", func(ctx context.Context) error { return dst.CommitCredit(ctx, req.TxID) })
	}()
	wg.Wait()

	e.logger.Info("transfer committed",
		zap.String("txid", req.TxID.String()),
		zap.String("src", req.SrcBank+"/"+req.SrcUser),
		zap.String("dst", req.DstBank+"/"+req.DstUser),
		zap.Int64("amount", req.Amount))
	e.publish(req, result)
	return result, nil
}

// abortPhase persists the abort decision and sends compensating aborts
// to every participant that voted prepared.
func (e *Engine) abortPhase(req wire.TransferRequest, src, dst Participant, debitErr, creditErr error, reason string) (wire.TransferResult, error) {
	result := wire.TransferResult{TxID: req.TxID, Status: wire.StatusAborted, Reason: reason}

	if err := e.log.Append(e.record(req, wire.StatusAborted, reason)); err != nil {
		e.logger.Error("decision log append failed during abort", zap.Error(err))
	}
	e.registry.Complete(req.TxID, StateAborted, result)

	// Only prepared sides hold anything worth releasing; the others
	// either rejected (nothing reserved) or will expire on deadline.
	var wg sync.WaitGroup
	if debitErr == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.deliver(req, "abort_debit", func(ctx context.Context) error { return src.AbortDebit(ctx, req.TxID) })
		}()
	}
	if creditErr == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.deliver(req, "abort_credit", func(ctx context.Context) error { return dst.AbortCredit(ctx, req.TxID) })
		}()
	}
	wg.Wait()

	e.logger.Info("transfer aborted",
		zap.String("txid", req.TxID.String()),
		zap.String("reason", reason))
	e.publish(req, result)
	return result, nil
}

// prepareFailure picks the reason reported to the client.
func prepareFailure(debitErr, creditErr error) string {
	if debitErr != nil {
		return wire.CodeOf(debitErr)
	}
	if creditErr != nil {
		return wire.CodeOf(creditErr)
	}
	return wire.CodeInternal
}

// deliver sends a decision message. The first attempt is synchronous;
// on transport failure the delivery is retried in the background with
// capped exponential backoff until acknowledged. A logical
// not_prepared/unknown_txid answer to a commit is the
// commit-after-expiry corner: it raises an operational alarm and
// downgrades the entry to aborted.
func (e *Engine) deliver(req wire.TransferRequest, op string, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(e.ctx, deliveryAttemptTimeout)
	err := send(ctx)
	cancel()
	if err == nil {
		return
	}
	if e.handleLogicalFailure(req, op, err) {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = e.cfg.CommitBackoffMax
		bo.MaxElapsedTime = 0 // retry until acknowledged or engine close

		retryErr := backoff.Retry(func() error {
			ctx, cancel := context.WithTimeout(e.ctx, deliveryAttemptTimeout)
			defer cancel()

			err := send(ctx)
			if err == nil {
				return nil
			}
			if e.handleLogicalFailure(req, op, err) {
				return nil
			}
			e.logger.Warn("decision delivery retry",
				zap.String("txid", req.TxID.String()),
				zap.String("op", op),
				zap.Error(err))
			return err
		}, backoff.WithContext(bo, e.ctx))
		if retryErr != nil {
			e.logger.Error("decision delivery abandoned at engine close",
				zap.String("txid", req.TxID.String()),
				zap.String("op", op),
				zap.Error(retryErr))
		}
	}()
}

// handleLogicalFailure reacts to a participant refusing a commit
// because its hold expired. Returns true when the failure is logical
// (no retry will help).
func (e *Engine) handleLogicalFailure(req wire.TransferRequest, op string, err error) bool {
	code := wire.CodeOf(err)
	if code != wire.CodeNotPrepared && code != wire.CodeUnknownTxn {
		return false
	}
	if op == "abort_debit" || op == "abort_credit" {
		// Abort of a missing hold is fine.
		return true
	}

	e.logger.Error("commit refused by participant after hold expiry",
		zap.String("txid", req.TxID.String()),
		zap.String("op", op),
		zap.Error(err))
	result := wire.TransferResult{TxID: req.TxID, Status: wire.StatusAborted, Reason: "aborted: " + code}
	if logErr := e.log.Append(e.record(req, wire.StatusAborted, result.Reason)); logErr != nil {
		e.logger.Error("decision log append failed for alarm record", zap.Error(logErr))
	}
	e.registry.Override(req.TxID, StateAborted, result)
	return true
}

func (e *Engine) record(req wire.TransferRequest, state, reason string) Record {
	return Record{
		TxID:    req.TxID,
		State:   state,
		SrcBank: req.SrcBank,
		SrcUser: req.SrcUser,
		DstBank: req.DstBank,
		DstUser: req.DstUser,
		Amount:  req.Amount,
		Reason:  reason,
		TS:      time.Now(),
	}
}

func (e *Engine) publish(req wire.TransferRequest, result wire.TransferResult) {
	e.hub.Publish(wire.TransferEvent{
		TxID:    req.TxID,
		Status:  result.Status,
		Reason:  result.Reason,
		SrcBank: req.SrcBank,
		DstBank: req.DstBank,
		Amount:  req.Amount,
		At:      time.Now(),
	})
}
