package provider

import (
	"context"

	"github.com/Shoto0095/rafiki/internal/domain"
)

// LoopbackTransmitter delivers every payment in full without leaving the process.
// It backs local runs when no connector is configured.
type LoopbackTransmitter struct{}

func (LoopbackTransmitter) Send(ctx context.Context, _ *domain.OutgoingPayment, remaining domain.Amount) Result {
	if err := ctx.Err(); err != nil {
		return Result{Kind: ResultTransient, Reason: err.Error()}
	}
	return Result{Kind: ResultDelivered, Amount: remaining.Value}
}
