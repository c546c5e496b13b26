package sequence

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix     = "ordseq/"
	seqBandwidth  = 64
	codeDayFormat = "20060102"
)

// Allocator hands out collision-free order codes of the form
// ORD-YYYYMMDD-NNNNNN. The per-day counter lives in badger, which allocates
// blocks atomically, so concurrent Next calls never observe the same value.
// This replaces scanning for the highest code of the day, which is unsafe
// across a read-then-write window.
type Allocator struct {
	db  *badger.DB
	mu  sync.Mutex
	day string
	seq *badger.Sequence
}

// NewAllocator creates an order code allocator backed by the given badger DB
func NewAllocator(db *badger.DB) *Allocator {
	return &Allocator{db: db}
}

// Next allocates the next order code for the day of the given timestamp
func (a *Allocator) Next(now time.Time) (string, error) {
	day := now.Format(codeDayFormat)

	a.mu.Lock()
	if a.seq == nil || a.day != day {
		if a.seq != nil {
			if err := a.seq.Release(); err != nil {
				a.mu.Unlock()
				return "", fmt.Errorf("releasing sequence for %s: %w", a.day, err)
			}
		}
		seq, err := a.db.GetSequence([]byte(keyPrefix+day), seqBandwidth)
		if err != nil {
			a.seq = nil
			a.mu.Unlock()
			return "", fmt.Errorf("opening sequence for %s: %w", day, err)
		}
		a.day = day
		a.seq = seq
	}
	seq := a.seq
	a.mu.Unlock()

	n, err := seq.Next()
	if err != nil {
		return "", fmt.Errorf("allocating order number: %w", err)
	}

	return fmt.Sprintf("ORD-%s-%06d", day, n+1), nil
}

// Close releases any leased sequence numbers back to the store
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq == nil {
		return nil
	}
	err := a.seq.Release()
	a.seq = nil
	return err
}
