// Package vault is the token balance book the settlement coordinator pays
// pools from. Between Snapshot and Commit it keeps a journal so a failed
// operation can be rolled back; outside of that nothing is journaled.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	ErrNonPositiveAmount   = errors.New("vault: amount must be positive")
)

type journalEntry struct {
	token, holder common.Address
	prev          *big.Int // nil if the slot did not exist
}

// Vault holds balances per token and holder. Transfers always debit the
// owner, which is the coordinator's own address.
type Vault struct {
	mu       sync.Mutex
	owner    common.Address
	balances map[common.Address]map[common.Address]*big.Int
	journal  []journalEntry
	tracking bool // a snapshot is open
}

func New(owner common.Address) *Vault {
	return &Vault{
		owner:    owner,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (v *Vault) Owner() common.Address { return v.owner }

// Deposit credits the owner with amount of token.
func (v *Vault) Deposit(token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set(token, v.owner, new(big.Int).Add(v.get(token, v.owner), amount))
	return nil
}

func (v *Vault) BalanceOf(token, holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.get(token, holder))
}

// Transfer moves amount of token from the owner to to. On error nothing moves.
func (v *Vault) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	have := v.get(token, v.owner)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s have %s want %s", ErrInsufficientBalance, token.Hex(), have, amount)
	}
	v.set(token, v.owner, new(big.Int).Sub(have, amount))
	v.set(token, to, new(big.Int).Add(v.get(token, to), amount))
	return nil
}

// Snapshot returns an id for the current state and starts journaling.
func (v *Vault) Snapshot() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracking = true
	return len(v.journal)
}

// Commit makes every change final: the journal is dropped and ids handed
// out so far become invalid.
func (v *Vault) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = v.journal[:0]
	v.tracking = false
}

// RevertToSnapshot undoes every change made after id was taken. It panics
// on an id that was never handed out or was already reverted past.
func (v *Vault) RevertToSnapshot(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id < 0 || id > len(v.journal) {
		panic(fmt.Sprintf("vault: revision id %d cannot be reverted (journal length %d)", id, len(v.journal)))
	}
	for i := len(v.journal) - 1; i >= id; i-- {
		e := v.journal[i]
		if e.prev == nil {
			delete(v.balances[e.token], e.holder)
			continue
		}
		v.balances[e.token][e.holder] = e.prev
	}
	v.journal = v.journal[:id]
}

func (v *Vault) get(token, holder common.Address) *big.Int {
	if b, ok := v.balances[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

func (v *Vault) set(token, holder common.Address, amount *big.Int) {
	byHolder, ok := v.balances[token]
	if !ok {
		byHolder = make(map[common.Address]*big.Int)
		v.balances[token] = byHolder
	}
	if v.tracking {
		v.journal = append(v.journal, journalEntry{token: token, holder: holder, prev: byHolder[holder]})
	}
	byHolder[holder] = amount
}
