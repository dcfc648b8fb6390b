package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/devlongs/amm-swap-engine/internal/controller"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

type tradeFlags struct {
	from     string
	to       string
	amount   string
	exactOut bool
	slippage string
	deadline int
}

func (f *tradeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "token to sell: address, symbol or \"native\"")
	cmd.Flags().StringVar(&f.to, "to", "", "token to buy: address, symbol or \"native\"")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in human units")
	cmd.Flags().BoolVar(&f.exactOut, "exact-out", false, "treat amount as the exact output")
	cmd.Flags().StringVar(&f.slippage, "slippage", "", "max slippage percent (default from config)")
	cmd.Flags().IntVar(&f.deadline, "deadline", 0, "deadline in minutes (default from config)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
}

// input resolves the flags into a controller update
func (f *tradeFlags) input(ctx context.Context, e *Engine) (controller.Input, error) {
	from, err := e.Token(ctx, f.from)
	if err != nil {
		return controller.Input{}, fmt.Errorf("from: %w", err)
	}
	to, err := e.Token(ctx, f.to)
	if err != nil {
		return controller.Input{}, fmt.Errorf("to: %w", err)
	}
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return controller.Input{}, fmt.Errorf("%w: %q", types.ErrInvalidAmount, f.amount)
	}

	settings := types.SwapSettings{
		MaxSlippage:     e.cfg.Swap.MaxSlippage,
		DeadlineMinutes: e.cfg.Swap.DeadlineMinutes,
	}
	if f.slippage != "" {
		if settings.MaxSlippage, err = decimal.NewFromString(f.slippage); err != nil {
			return controller.Input{}, fmt.Errorf("invalid slippage %q: %w", f.slippage, err)
		}
	}
	if f.deadline > 0 {
		settings.DeadlineMinutes = f.deadline
	}

	exactOut := f.exactOut
	return controller.Input{
		From:     &from,
		To:       &to,
		Amount:   &amount,
		ExactOut: &exactOut,
		Settings: &settings,
	}, nil
}

// requote pushes the flags into the controller and returns the fresh quote
func (f *tradeFlags) requote(ctx context.Context, e *Engine) (*types.Quote, error) {
	in, err := f.input(ctx, e)
	if err != nil {
		return nil, err
	}
	state := e.controller.SetData(ctx, in)
	if state.Error != "" {
		return nil, errors.New(state.Error)
	}
	if state.Quote == nil {
		return nil, types.ErrNoQuote
	}
	return state.Quote, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve quotes, tokens and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *Engine) error {
			go e.ReportStats(ctx)
			return e.API().Run(ctx)
		})
	},
}

var quoteFlags tradeFlags

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Compute the best trade for a token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *Engine) error {
			q, err := quoteFlags.requote(ctx, e)
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), q)
			return nil
		})
	},
}

var (
	tokensLimit  int
	tokensSearch string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List tokens known to the pair graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *Engine) error {
			tokens, err := e.controller.GetTokensFromGraph(ctx, tokensLimit, tokensSearch)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tNAME\tDECIMALS\tADDRESS")
			for _, t := range tokens {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Symbol, t.Name, t.Decimals, t.Address.Hex())
			}
			return w.Flush()
		})
	},
}

var swapFlags tradeFlags

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Quote, approve if needed and execute a swap with the configured key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *Engine) error {
			signer, err := e.Signer()
			if err != nil {
				return err
			}
			e.controller.ConnectWallet(signer)
			defer e.controller.DisconnectWallet()

			q, err := swapFlags.requote(ctx, e)
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), q)

			hash, err := e.controller.Swap(ctx)
			if err != nil {
				return err
			}
			state := e.controller.GetState()
			if state.ApproveTxHash != (common.Hash{}) {
				fmt.Fprintf(cmd.OutOrStdout(), "approval: %s\n", state.ApproveTxHash.Hex())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swap:     %s\n", hash.Hex())

			e.settle(ctx, hash, q)
			return nil
		})
	},
}

func init() {
	quoteFlags.register(quoteCmd)
	swapFlags.register(swapCmd)
	tokensCmd.Flags().IntVar(&tokensLimit, "limit", 0, "maximum number of tokens")
	tokensCmd.Flags().StringVar(&tokensSearch, "search", "", "filter by symbol, name or address")
}

func printQuote(w io.Writer, q *types.Quote) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "route:\t%s\n", q.Trade.Route)
	fmt.Fprintf(tw, "direction:\t%s\n", q.Trade.Direction)
	fmt.Fprintf(tw, "amount in:\t%s %s\n", q.Computed.AmountIn, q.TokenIn)
	fmt.Fprintf(tw, "amount out:\t%s %s\n", q.Computed.AmountOut, q.TokenOut)
	if q.Trade.Direction == types.ExactOut {
		fmt.Fprintf(tw, "max amount in:\t%s %s\n", q.Computed.MaxAmountIn, q.TokenIn)
	} else {
		fmt.Fprintf(tw, "min amount out:\t%s %s\n", q.Computed.MinAmountOut, q.TokenOut)
	}
	if q.PartnerFeeBps > 0 {
		fmt.Fprintf(tw, "partner fee:\t%s%%\n", decimal.New(int64(q.PartnerFeeBps), -2))
	}
	_ = tw.Flush()
}
