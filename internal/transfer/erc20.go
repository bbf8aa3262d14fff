package transfer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal ERC-20 surface; the ledger only ever needs these three.
const erc20ABI = `[
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20Port implements Port on top of an ERC-20 token contract. Transactions
// are signed with the escrow account key and waited to inclusion; a reverted
// receipt is a failed transfer, same as a transport error.
type ERC20Port struct {
	eth        *ethclient.Client
	contract   *bind.BoundContract
	tokenAddr  common.Address
	escrowKey  *ecdsa.PrivateKey
	escrowAddr common.Address
	chainID    *big.Int
}

func NewERC20Port(rpcURL, tokenAddress, escrowPrivateKey string, chainID int64) (*ERC20Port, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(escrowPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse escrow private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	tokenAddr := common.HexToAddress(tokenAddress)
	return &ERC20Port{
		eth:        eth,
		contract:   bind.NewBoundContract(tokenAddr, parsed, eth, eth, eth),
		tokenAddr:  tokenAddr,
		escrowKey:  key,
		escrowAddr: crypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// EscrowAddress returns the account that holds escrowed funds.
func (p *ERC20Port) EscrowAddress() common.Address { return p.escrowAddr }

// TokenAddress returns the backing token contract.
func (p *ERC20Port) TokenAddress() common.Address { return p.tokenAddr }

func (p *ERC20Port) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return p.transact(ctx, "transfer", to, amount)
}

func (p *ERC20Port) TransferFrom(ctx context.Context, payer, to common.Address, amount *big.Int) error {
	return p.transact(ctx, "transferFrom", payer, to, amount)
}

func (p *ERC20Port) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := p.contract.Call(opts, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", account.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

func (p *ERC20Port) transact(ctx context.Context, method string, args ...interface{}) error {
	opts, err := bind.NewKeyedTransactorWithChainID(p.escrowKey, p.chainID)
	if err != nil {
		return fmt.Errorf("%w: build transactor: %v", ErrTransferFailed, err)
	}
	opts.Context = ctx

	tx, err := p.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransferFailed, method, err)
	}

	receipt, err := bind.WaitMined(ctx, p.eth, tx)
	if err != nil {
		return fmt.Errorf("%w: %s wait mined: %v", ErrTransferFailed, method, err)
	}
	if receipt.Status != 1 {
		return fmt.Errorf("%w: %s reverted (tx %s)", ErrTransferFailed, method, tx.Hash().Hex())
	}
	return nil
}
