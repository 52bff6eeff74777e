// Package ledger keeps the trade history that feeds the volume factor of the
// dynamic fee. Records are kept in timestamp order; anything that can no longer
// fall inside the window is dropped by Prune, so queries only touch live data.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/you/dynfee/internal/types"
)

// DefaultWindow is the trailing window of WindowedSum, in seconds (24h).
const DefaultWindow int64 = 86400

var (
	ErrNegativeAmount  = errors.New("ledger: negative trade amount")
	ErrOutOfOrder      = errors.New("ledger: timestamp before last record")
	ErrIndexOutOfRange = errors.New("ledger: index out of range")
	ErrPruned          = errors.New("ledger: record pruned from window")
)

// Ledger is an append-only, time-ordered trade log with a sliding-window sum.
//
// Positions are absolute: the i-th record ever appended keeps position i even
// after older records have been pruned.
type Ledger struct {
	mu     sync.RWMutex
	window int64
	recs   []types.TradeRecord
	head   int // first retained index in recs
	pruned int // records dropped before recs[head]
}

func New(window int64) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{window: window, recs: make([]types.TradeRecord, 0, 1024)}
}

func (l *Ledger) Window() int64 { return l.window }

// Append adds a record. Timestamps must be non-decreasing.
func (l *Ledger) Append(amount *big.Int, ts int64) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.recs); n > l.head && ts < l.recs[n-1].Timestamp {
		return fmt.Errorf("%w: %d < %d", ErrOutOfOrder, ts, l.recs[n-1].Timestamp)
	}
	l.recs = append(l.recs, types.NewTradeRecord(ts, amount))
	return nil
}

// WindowedSum returns the sum of amounts of every record with
// now - timestamp <= window. The boundary is inclusive and records stamped
// after now are counted.
func (l *Ledger) WindowedSum(now int64) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	live := l.recs[l.head:]
	from := sort.Search(len(live), func(i int) bool {
		return now-live[i].Timestamp <= l.window
	})
	sum := new(big.Int)
	for _, r := range live[from:] {
		sum.Add(sum, r.Amount)
	}
	return sum
}

// Prune drops records that are outside the window for now and therefore for
// any later query. It returns the number of records dropped.
func (l *Ledger) Prune(now int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.recs[l.head:]
	n := sort.Search(len(live), func(i int) bool {
		return now-live[i].Timestamp <= l.window
	})
	if n == 0 {
		return 0
	}
	for i := l.head; i < l.head+n; i++ {
		l.recs[i] = types.TradeRecord{}
	}
	l.head += n
	l.pruned += n

	// compact once the dead prefix dominates the backing array
	if l.head > len(l.recs)/2 {
		kept := copy(l.recs, l.recs[l.head:])
		for i := kept; i < len(l.recs); i++ {
			l.recs[i] = types.TradeRecord{}
		}
		l.recs = l.recs[:kept]
		l.head = 0
	}
	return n
}

// Len is the number of records ever appended, pruned ones included.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pruned + len(l.recs) - l.head
}

// Retained is the number of records still held.
func (l *Ledger) Retained() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.recs) - l.head
}

// At returns the record at absolute position i.
func (l *Ledger) At(i int) (types.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := l.pruned + len(l.recs) - l.head
	switch {
	case i < 0 || i >= total:
		return types.TradeRecord{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, total)
	case i < l.pruned:
		return types.TradeRecord{}, fmt.Errorf("%w: %d", ErrPruned, i)
	}
	return l.recs[l.head+i-l.pruned].Copy(), nil
}

// Records returns copies of the retained records and the absolute position
// of the first one.
func (l *Ledger) Records() (first int, out []types.TradeRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out = make([]types.TradeRecord, 0, len(l.recs)-l.head)
	for _, r := range l.recs[l.head:] {
		out = append(out, r.Copy())
	}
	return l.pruned, out
}

// Snapshot returns a revision id for RevertToSnapshot.
func (l *Ledger) Snapshot() int { return l.Len() }

// RevertToSnapshot drops every record appended after the snapshot was taken.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.pruned + len(l.recs) - l.head
	if id < l.pruned || id > total {
		panic(fmt.Errorf("ledger revision id %v cannot be reverted (pruned %d, len %d)", id, l.pruned, total))
	}
	keep := l.head + id - l.pruned
	for i := keep; i < len(l.recs); i++ {
		l.recs[i] = types.TradeRecord{}
	}
	l.recs = l.recs[:keep]
}
