package coordinator

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/wal"

	"github.com/mnohosten/bridgepay/pkg/txid"
)

// Record is one entry of the coordinator's durable log. A begin record
// carries state "in-flight"; a decision record carries "committed" or
// "aborted". The decision record is written before the coordinator
// replies to the client.
type Record struct {
	TxID    txid.TxID `json:"txid"`
	State   string    `json:"state"`
	SrcBank string    `json:"src_bank"`
	SrcUser string    `json:"src_user"`
	DstBank string    `json:"dst_bank"`
	DstUser string    `json:"dst_user"`
	Amount  int64     `json:"amount"`
	Reason  string    `json:"reason,omitempty"`
	TS      time.Time `json:"ts"`
}

// DecisionLog is an append-only write-ahead log of transaction
// decisions, with a single-writer discipline enforced by its mutex.
type DecisionLog struct {
	mu   sync.Mutex
	log  *wal.Log
	next uint64
}

// OpenDecisionLog opens (or creates) the log under dir.
func OpenDecisionLog(dir string) (*DecisionLog, error) {
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open decision log %s: %w", dir, err)
	}
	last, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("read decision log index: %w", err)
	}
	return &DecisionLog{log: log, next: last + 1}, nil
}

// Append durably writes a record. It returns only after the record is
// on disk.
func (d *DecisionLog) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.log.Write(d.next, data); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	d.next++
	return nil
}

// Replay calls fn for every record in append order.
func (d *DecisionLog) Replay(fn func(Record) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	first, err := d.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("read first log index: %w", err)
	}
	last, err := d.log.LastIndex()
	if err != nil {
		return fmt.Errorf("read last log index: %w", err)
	}
	if first == 0 {
		// Empty log.
		return nil
	}

	for i := first; i <= last; i++ {
		data, err := d.log.Read(i)
		if err != nil {
			return fmt.Errorf("read log record %d: %w", i, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode log record %d: %w", i, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying log.
func (d *DecisionLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Close()
}
