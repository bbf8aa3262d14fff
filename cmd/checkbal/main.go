// checkbal prints the token balances the escrow service cares about: the
// escrow account itself and the platform fee wallet. Operator tool; reads
// the same config as escrowd.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xiao99xiao/bookme-sub008/internal/config"
	"github.com/xiao99xiao/bookme-sub008/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Chain.Backend != "erc20" {
		fmt.Fprintln(os.Stderr, "checkbal requires the erc20 backend")
		os.Exit(1)
	}

	port, err := transfer.NewERC20Port(
		cfg.Chain.RPCURL,
		cfg.Chain.TokenAddress,
		cfg.Chain.EscrowPrivateKey,
		cfg.Chain.ChainID,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "erc20 port:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	escrowBal, err := port.BalanceOf(ctx, port.EscrowAddress())
	if err != nil {
		fmt.Fprintln(os.Stderr, "escrow balance:", err)
		os.Exit(1)
	}
	feeWallet := common.HexToAddress(cfg.Escrow.FeeWalletAddress)
	feeBal, err := port.BalanceOf(ctx, feeWallet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fee wallet balance:", err)
		os.Exit(1)
	}

	fmt.Printf("token:      %s\n", port.TokenAddress().Hex())
	fmt.Printf("escrow:     %s  balance %s\n", port.EscrowAddress().Hex(), escrowBal)
	fmt.Printf("fee wallet: %s  balance %s\n", feeWallet.Hex(), feeBal)
}
