package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/verification-api/internal/domain"
)

// Sweeper closes tickets whose sole outstanding code has expired, so
// abandoned verifications don't leak platform channels. Disabled unless a
// sweep interval is configured; redemption itself never depends on it.
type Sweeper struct {
	svc      Service
	ledger   Ledger
	tickets  TicketRepo
	codeTTL  time.Duration
	interval time.Duration
}

func NewSweeper(svc Service, ledger Ledger, tickets TicketRepo, codeTTL, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, ledger: ledger, tickets: tickets, codeTTL: codeTTL, interval: interval}
}

// Run blocks until ctx is cancelled. Call in a goroutine from main.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || s.codeTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	tickets, err := s.tickets.List(ctx)
	if err != nil {
		slog.Warn("ticket sweep: list failed", "err", err)
		return
	}
	now := time.Now()
	for _, t := range tickets {
		// Young tickets may not have a code yet; leave them alone.
		if now.Sub(t.CreatedAt) < s.codeTTL {
			continue
		}
		_, err := s.ledger.GetActivePending(ctx, t.RequesterID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("ticket sweep: pending lookup failed", "requester_id", t.RequesterID, "err", err)
			continue
		}
		if err := s.svc.CloseTicket(ctx, t.RequesterID); err != nil {
			slog.Warn("ticket sweep: close failed", "requester_id", t.RequesterID, "err", err)
			continue
		}
		slog.Info("ticket sweep: closed dangling ticket", "requester_id", t.RequesterID)
	}
}
