package lifecycle

import "github.com/Shoto0095/rafiki/internal/domain"

// Settlement describes how a terminal payment's reservation is finalized.
type Settlement struct {
	ReservationID string
	// Commit is false when the whole reservation goes back to the account.
	Commit bool
	Amount uint64
}

// SettlementFor returns the ledger settlement owed by p, or false if there is none.
// Completed payments commit the full send amount, failed ones commit what was delivered
// and cancelled ones release everything.
func SettlementFor(p *domain.OutgoingPayment) (Settlement, bool) {
	if !p.State.IsTerminal() || p.ReservationID == nil || p.SettledAt != nil {
		return Settlement{}, false
	}
	s := Settlement{ReservationID: *p.ReservationID}
	switch p.State {
	case domain.PaymentStateCompleted:
		s.Commit = true
		if p.SendAmount != nil {
			s.Amount = p.SendAmount.Value
		}
	case domain.PaymentStateFailed:
		if p.AmountSent > 0 {
			s.Commit = true
			s.Amount = p.AmountSent
		}
	}
	return s, true
}
