package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/pkg/quote"
)

type quoteFlags struct {
	source, destination string
	sourceScale         uint8
	destinationScale    uint8
	low, high           string
	slippage            string
	send, receive       uint64
	maxPacket           uint64
	lifespan            time.Duration
}

// quoteCmd runs the quote engine offline against operator supplied rates.
func quoteCmd() *cobra.Command {
	var f quoteFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute a quote from probed rates without touching any payment",
		Long: `Compute a quote from probed rates without touching any payment.

Examples:
  outgoing-payments quote --from USD --to EUR --low 0.90 --high 0.92 --send 10000
  outgoing-payments quote --from USD --to EUR --low 0.9 --high 0.9 --receive 5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := runQuote(f, time.Now().UTC())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(q, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&f.source, "from", "", "source asset code")
	cmd.Flags().StringVar(&f.destination, "to", "", "destination asset code")
	cmd.Flags().Uint8Var(&f.sourceScale, "from-scale", 2, "source asset scale")
	cmd.Flags().Uint8Var(&f.destinationScale, "to-scale", 2, "destination asset scale")
	cmd.Flags().StringVar(&f.low, "low", "", "probed low rate, destination units per source unit")
	cmd.Flags().StringVar(&f.high, "high", "", "probed high rate")
	cmd.Flags().StringVar(&f.slippage, "slippage", "0.01", "slippage tolerance")
	cmd.Flags().Uint64Var(&f.send, "send", 0, "fixed send amount in source smallest units")
	cmd.Flags().Uint64Var(&f.receive, "receive", 0, "fixed delivery amount in destination smallest units")
	cmd.Flags().Uint64Var(&f.maxPacket, "max-packet", 1<<20, "max packet amount in source smallest units")
	cmd.Flags().DurationVar(&f.lifespan, "lifespan", 5*time.Minute, "quote lifespan")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("low")
	_ = cmd.MarkFlagRequired("high")
	return cmd
}

func runQuote(f quoteFlags, now time.Time) (*domain.Quote, error) {
	if (f.send == 0) == (f.receive == 0) {
		return nil, fmt.Errorf("%w: exactly one of --send or --receive is required", domain.ErrValidation)
	}
	low, err := domain.ParseRate(f.low)
	if err != nil {
		return nil, err
	}
	high, err := domain.ParseRate(f.high)
	if err != nil {
		return nil, err
	}
	slippage, err := domain.ParseRate(f.slippage)
	if err != nil {
		return nil, err
	}

	target := quote.Target{Type: domain.TargetFixedSend, Amount: f.send}
	if f.receive != 0 {
		target = quote.Target{Type: domain.TargetFixedDelivery, Amount: f.receive}
	}
	return quote.NewEngine(slippage, f.lifespan).Quote(quote.Request{
		SourceAsset:      domain.Asset{ID: uuid.Nil, Code: f.source, Scale: f.sourceScale},
		DestinationAsset: domain.Asset{ID: uuid.Nil, Code: f.destination, Scale: f.destinationScale},
		Target:           target,
		ProbedRateLow:    low,
		ProbedRateHigh:   high,
		MaxPacketAmount:  f.maxPacket,
		Now:              now,
	})
}
