package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryPort is an in-process double-entry Port for tests and local runs.
// It tracks plain balances under a mutex; FailWith injects a failure on the
// next operation so rollback paths can be exercised.
type MemoryPort struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	escrowAddr common.Address
	failIn     int
	failErr    error
}

func NewMemoryPort(escrowAddr common.Address) *MemoryPort {
	return &MemoryPort{
		balances:   make(map[common.Address]*big.Int),
		escrowAddr: escrowAddr,
	}
}

// EscrowAddress returns the account that holds escrowed funds.
func (p *MemoryPort) EscrowAddress() common.Address { return p.escrowAddr }

// SetBalance seeds an account balance.
func (p *MemoryPort) SetBalance(account common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[account] = new(big.Int).Set(amount)
}

// FailWith makes the next Transfer/TransferFrom fail with the given cause.
func (p *MemoryPort) FailWith(cause string) {
	p.FailOnCall(1, cause)
}

// FailOnCall makes the nth subsequent Transfer/TransferFrom fail with the
// given cause; earlier calls succeed normally. The injection is one-shot.
func (p *MemoryPort) FailOnCall(n int, cause string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failIn = n
	p.failErr = fmt.Errorf("%w: %s", ErrTransferFailed, cause)
}

func (p *MemoryPort) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return p.TransferFrom(ctx, p.escrowAddr, to, amount)
}

func (p *MemoryPort) TransferFrom(ctx context.Context, payer, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failErr != nil {
		p.failIn--
		if p.failIn <= 0 {
			err := p.failErr
			p.failErr = nil
			return err
		}
	}

	from := p.balance(payer)
	if from.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance of %s", ErrTransferFailed, payer.Hex())
	}
	from.Sub(from, amount)
	p.balance(to).Add(p.balance(to), amount)
	return nil
}

func (p *MemoryPort) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.balance(account)), nil
}

// balance returns the live *big.Int for an account, creating a zero entry on
// first touch. Callers must hold p.mu.
func (p *MemoryPort) balance(account common.Address) *big.Int {
	b, ok := p.balances[account]
	if !ok {
		b = new(big.Int)
		p.balances[account] = b
	}
	return b
}
