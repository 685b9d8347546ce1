package coordinator

import (
	"testing"
	"time"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

func TestDecisionLogAppendReplay(t *testing.T) {
	dir := t.TempDir()

	log, err := OpenDecisionLog(dir)
	if err != nil {
		t.Fatalf("OpenDecisionLog failed: %v", err)
	}

	ids := []txid.TxID{txid.New(), txid.New()}
	recs := []Record{
		{TxID: ids[0], State: wire.StatusInFlight, SrcBank: "banka", DstBank: "bankb", Amount: 30, TS: time.Now()},
		{TxID: ids[0], State: wire.StatusCommitted, SrcBank: "banka", DstBank: "bankb", Amount: 30, TS: time.Now()},
		{TxID: ids[1], State: wire.StatusAborted, Reason: "prepare_failed: insufficient_funds", TS: time.Now()},
	}
	for _, rec := range recs {
		if err := log.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and replay: records come back in append order.
	log, err = OpenDecisionLog(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer log.Close()

	var replayed []Record
	if err := log.Replay(func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(replayed) != len(recs) {
		t.Fatalf("replayed %d records, want %d", len(replayed), len(recs))
	}
	for i, rec := range replayed {
		if rec.TxID != recs[i].TxID || rec.State != recs[i].State {
			t.Errorf("record %d = {%s %s}, want {%s %s}",
				i, rec.TxID, rec.State, recs[i].TxID, recs[i].State)
		}
	}
	if replayed[2].Reason != recs[2].Reason {
		t.Errorf("reason lost: %q", replayed[2].Reason)
	}
}

func TestDecisionLogAppendAfterReopen(t *testing.T) {
	dir := t.TempDir()

	log, err := OpenDecisionLog(dir)
	if err != nil {
		t.Fatalf("OpenDecisionLog failed: %v", err)
	}
	if err := log.Append(Record{TxID: txid.New(), State: wire.StatusCommitted, TS: time.Now()}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	log.Close()

	log, err = OpenDecisionLog(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer log.Close()

	// Index continues where the previous process stopped.
	if err := log.Append(Record{TxID: txid.New(), State: wire.StatusAborted, TS: time.Now()}); err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}

	count := 0
	if err := log.Replay(func(Record) error { count++; return nil }); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if count != 2 {
		t.Errorf("replayed %d records, want 2", count)
	}
}

func TestDecisionLogEmptyReplay(t *testing.T) {
	log, err := OpenDecisionLog(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDecisionLog failed: %v", err)
	}
	defer log.Close()

	if err := log.Replay(func(Record) error {
		t.Error("callback invoked on empty log")
		return nil
	}); err != nil {
		t.Errorf("Replay of empty log failed: %v", err)
	}
}
