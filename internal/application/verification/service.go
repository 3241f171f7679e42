package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verification-api/internal/config"
	"github.com/verification-api/internal/domain"
	"github.com/verification-api/internal/pkg/code"
	"github.com/verification-api/internal/pkg/id"
)

// maxIssueAttempts bounds the collision-retry loop. Exhausting it means the
// code space is effectively full and issuance should fail loudly.
const maxIssueAttempts = 5

// Ledger is the verification record store. Insert and TryMarkUsed are the
// only operations with compare-and-set semantics; everything else is a plain
// read against the same store.
type Ledger interface {
	Insert(ctx context.Context, rec *domain.VerificationRecord) error
	GetByCode(ctx context.Context, code string) (*domain.VerificationRecord, error)
	GetActivePending(ctx context.Context, requesterID string) (*domain.VerificationRecord, error)
	TryMarkUsed(ctx context.Context, code, externalID string) (*domain.VerificationRecord, error)
	Expire(ctx context.Context, code string) error
}

// TicketRepo is the requester-to-channel mapping. Reserve is atomic per
// requester: exactly one concurrent opener wins the slot.
type TicketRepo interface {
	Reserve(ctx context.Context, t *domain.Ticket) error
	Get(ctx context.Context, requesterID string) (*domain.Ticket, error)
	SetChannel(ctx context.Context, requesterID, channelRef string) error
	Delete(ctx context.Context, requesterID string) error
	List(ctx context.Context) ([]domain.Ticket, error)
}

// Platform is the external messaging-platform collaborator.
type Platform interface {
	CreateChannel(ctx context.Context, ownerID string) (string, error)
	DeleteChannel(ctx context.Context, channelRef string) error
	SendMessage(ctx context.Context, channelRef, content string) error
	GrantAuthorization(ctx context.Context, requesterID string) error
}

// Alerter receives out-of-band reports of post-commit platform failures.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

type RedeemRequest struct {
	Code       string `json:"code" validate:"required,min=4,max=16"`
	ExternalID string `json:"external_id" validate:"required"`
}

type TicketResult struct {
	ChannelRef string `json:"channel_ref"`
	Created    bool   `json:"created"`
	Message    string `json:"message"`
}

type Service interface {
	OpenTicket(ctx context.Context, requesterID string) (*TicketResult, error)
	CloseTicket(ctx context.Context, requesterID string) error
	Issue(ctx context.Context, requesterID string, ttl time.Duration) (*domain.VerificationRecord, error)
	Redeem(ctx context.Context, req RedeemRequest) (requesterID string, err error)
	ActivePending(ctx context.Context, requesterID string) (*domain.VerificationRecord, error)
}

// ServiceDeps bundles everything the verification service needs. Alerter may
// be nil; post-commit failures are then only logged.
type ServiceDeps struct {
	Ledger      Ledger
	TicketRepo  TicketRepo
	Platform    Platform
	Alerter     Alerter
	CodeFormat  string
	CodeTTL     time.Duration
	IssuePolicy string
}

type service struct {
	ledger      Ledger
	ticketRepo  TicketRepo
	platform    Platform
	alerter     Alerter
	codeFormat  string
	codeTTL     time.Duration
	issuePolicy string
}

func NewService(deps ServiceDeps) Service {
	return &service{
		ledger:      deps.Ledger,
		ticketRepo:  deps.TicketRepo,
		platform:    deps.Platform,
		alerter:     deps.Alerter,
		codeFormat:  deps.CodeFormat,
		codeTTL:     deps.CodeTTL,
		issuePolicy: deps.IssuePolicy,
	}
}

// OpenTicket opens (or returns) the requester's private channel, makes sure
// an active code exists, and posts the code message into the channel.
func (s *service) OpenTicket(ctx context.Context, requesterID string) (*TicketResult, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("requester_id required: %w", domain.ErrBadRequest)
	}

	channelRef, created, err := s.ensureTicket(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	rec, err := s.Issue(ctx, requesterID, s.codeTTL)
	if errors.Is(err, domain.ErrConflict) {
		// Reject policy and a code is already outstanding: resend it rather
		// than failing the whole open.
		rec, err = s.ledger.GetActivePending(ctx, requesterID)
	}
	if err != nil {
		return nil, err
	}

	msg := codeMessage(rec)
	if err := s.platform.SendMessage(ctx, channelRef, msg); err != nil {
		slog.Error("could not deliver code message", "requester_id", requesterID, "channel_ref", channelRef, "err", err)
		return nil, fmt.Errorf("deliver code message: %w", domain.ErrUpstream)
	}

	return &TicketResult{ChannelRef: channelRef, Created: created, Message: msg}, nil
}

// ensureTicket returns the requester's channel ref, creating the platform
// channel when this call wins the ticket slot. Two concurrent opens yield
// exactly one channel creation and the same ref for both callers.
func (s *service) ensureTicket(ctx context.Context, requesterID string) (channelRef string, created bool, err error) {
	if t, err := s.ticketRepo.Get(ctx, requesterID); err == nil {
		if t.ChannelRef != "" {
			return t.ChannelRef, false, nil
		}
		return s.awaitChannel(ctx, requesterID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", false, err
	}

	ticket := &domain.Ticket{
		RequesterID: requesterID,
		TicketID:    id.New(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.ticketRepo.Reserve(ctx, ticket); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race; the winner is creating the channel.
			ref, _, werr := s.awaitChannel(ctx, requesterID)
			return ref, false, werr
		}
		return "", false, err
	}

	ref, err := s.platform.CreateChannel(ctx, requesterID)
	if err != nil {
		// Pre-commit failure: release the slot so a later open can retry.
		if derr := s.ticketRepo.Delete(ctx, requesterID); derr != nil {
			slog.Warn("could not release ticket reservation", "requester_id", requesterID, "err", derr)
		}
		return "", false, fmt.Errorf("create channel: %w", domain.ErrUpstream)
	}
	if err := s.ticketRepo.SetChannel(ctx, requesterID, ref); err != nil {
		return "", false, err
	}
	return ref, true, nil
}

// awaitChannel polls briefly for the winner's channel ref.
func (s *service) awaitChannel(ctx context.Context, requesterID string) (string, bool, error) {
	for attempt := 0; attempt < 5; attempt++ {
		t, err := s.ticketRepo.Get(ctx, requesterID)
		if err != nil {
			return "", false, err
		}
		if t.ChannelRef != "" {
			return t.ChannelRef, false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return "", false, fmt.Errorf("ticket channel not ready: %w", domain.ErrConflict)
}

// CloseTicket tears down the requester's ticket. A no-op if none is open.
func (s *service) CloseTicket(ctx context.Context, requesterID string) error {
	t, err := s.ticketRepo.Get(ctx, requesterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.ticketRepo.Delete(ctx, requesterID); err != nil {
		return err
	}
	if t.ChannelRef != "" {
		if err := s.platform.DeleteChannel(ctx, t.ChannelRef); err != nil {
			return fmt.Errorf("delete channel %s: %w", t.ChannelRef, domain.ErrUpstream)
		}
	}
	return nil
}

// Issue creates a new pending verification record for the requester.
// Collisions against the ledger are retried with a fresh code; an existing
// pending code is superseded or rejected depending on the configured policy.
func (s *service) Issue(ctx context.Context, requesterID string, ttl time.Duration) (*domain.VerificationRecord, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("requester_id required: %w", domain.ErrBadRequest)
	}

	now := time.Now().UTC()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).Unix()
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		// Policy resolution and the insert both live inside the retry loop:
		// the ledger enforces one pending code per requester atomically, so a
		// concurrent issuance surfaces here as ErrConflict and the policy is
		// re-resolved against whichever record actually won.
		if prior, err := s.ledger.GetActivePending(ctx, requesterID); err == nil {
			switch s.issuePolicy {
			case config.IssuePolicyReject:
				return nil, fmt.Errorf("active code already issued for requester: %w", domain.ErrConflict)
			default:
				if err := s.ledger.Expire(ctx, prior.Code); err != nil {
					return nil, fmt.Errorf("supersede prior code: %w", err)
				}
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		c, err := code.New(s.codeFormat)
		if err != nil {
			return nil, err
		}
		rec := &domain.VerificationRecord{
			Code:        c,
			RecordID:    id.New(),
			RequesterID: requesterID,
			State:       domain.StatePending,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		}
		err = s.ledger.Insert(ctx, rec)
		if err == nil {
			slog.Info("issued verification code", "requester_id", requesterID, "record_id", rec.RecordID)
			return rec, nil
		}
		if !errors.Is(err, domain.ErrDuplicateCode) && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not find an unused code after %d attempts", maxIssueAttempts)
}

// Redeem performs the atomic code-to-external-id binding and triggers the
// downstream platform effects. The ledger commit is the durable point of
// truth: once TryMarkUsed succeeds, platform failures are reported as
// upstream errors and never roll the binding back — re-running the grant
// would let an external id be reused.
func (s *service) Redeem(ctx context.Context, req RedeemRequest) (string, error) {
	if req.Code == "" || req.ExternalID == "" {
		return "", fmt.Errorf("code and external_id required: %w", domain.ErrBadRequest)
	}

	rec, err := s.ledger.TryMarkUsed(ctx, req.Code, req.ExternalID)
	if err != nil {
		return "", err
	}
	slog.Info("verification redeemed", "requester_id", rec.RequesterID, "record_id", rec.RecordID)

	if err := s.platform.GrantAuthorization(ctx, rec.RequesterID); err != nil {
		s.reportUpstream(ctx, rec.RequesterID, "authorization grant failed", err)
		return rec.RequesterID, fmt.Errorf("grant authorization: %w", domain.ErrUpstream)
	}
	if err := s.CloseTicket(ctx, rec.RequesterID); err != nil {
		s.reportUpstream(ctx, rec.RequesterID, "ticket teardown failed", err)
		return rec.RequesterID, fmt.Errorf("close ticket: %w", domain.ErrUpstream)
	}
	return rec.RequesterID, nil
}

func (s *service) ActivePending(ctx context.Context, requesterID string) (*domain.VerificationRecord, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("requester_id required: %w", domain.ErrBadRequest)
	}
	return s.ledger.GetActivePending(ctx, requesterID)
}

func (s *service) reportUpstream(ctx context.Context, requesterID, what string, err error) {
	slog.Error("post-commit platform failure", "requester_id", requesterID, "what", what, "err", err)
	if s.alerter == nil {
		return
	}
	msg := fmt.Sprintf("requester %s: %s: %v (binding already committed, manual remediation needed)", requesterID, what, err)
	if aerr := s.alerter.Alert(ctx, "verification upstream failure", msg); aerr != nil {
		slog.Error("could not publish operator alert", "err", aerr)
	}
}

// codeMessage renders the text posted into the requester's private channel.
func codeMessage(rec *domain.VerificationRecord) string {
	msg := fmt.Sprintf("Your verification code is: %s\nUse this code in the game to finish linking your account.\nThis code can be used only once. Do not share it with anyone.", rec.Code)
	if rec.ExpiresAt != 0 {
		msg += fmt.Sprintf("\nIt expires at %s.", time.Unix(rec.ExpiresAt, 0).UTC().Format(time.RFC1123))
	}
	return msg
}
