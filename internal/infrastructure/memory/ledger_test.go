package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verification-api/internal/domain"
)

func pendingRecord(code, requesterID string, ttl time.Duration) *domain.VerificationRecord {
	rec := &domain.VerificationRecord{
		Code:        code,
		RecordID:    "rec-" + code,
		RequesterID: requesterID,
		State:       domain.StatePending,
		CreatedAt:   time.Now().UTC(),
	}
	if ttl != 0 {
		rec.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	return rec
}

func TestInsert_DuplicateCodeRejected(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, pendingRecord("AB12CD34", "U1", 0)))
	err := l.Insert(ctx, pendingRecord("AB12CD34", "U2", 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateCode))

	// The original record must be untouched.
	rec, err := l.GetByCode(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, "U1", rec.RequesterID)
}

func TestTryMarkUsed_HappyPath(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("AB12CD34", "U1", 10*time.Minute)))

	rec, err := l.TryMarkUsed(ctx, "AB12CD34", "R1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateUsed, rec.State)
	assert.Equal(t, "R1", rec.ExternalID)
	assert.Equal(t, "U1", rec.RequesterID)
}

func TestTryMarkUsed_UnknownCode(t *testing.T) {
	l := NewVerificationLedger()
	_, err := l.TryMarkUsed(context.Background(), "NOPE", "R1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTryMarkUsed_SecondCallReturnsAlreadyUsed(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("AB12CD34", "U1", 0)))

	_, err := l.TryMarkUsed(ctx, "AB12CD34", "R1")
	require.NoError(t, err)

	_, err = l.TryMarkUsed(ctx, "AB12CD34", "R1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
}

func TestTryMarkUsed_ExpiredCode(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("AB12CD34", "U1", -time.Minute)))

	_, err := l.TryMarkUsed(ctx, "AB12CD34", "R1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpired))

	// Lazy expiry flipped the record to a terminal state.
	rec, err := l.GetByCode(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, rec.State)
}

func TestTryMarkUsed_ExternalIDExclusivity(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("CODE0001", "U1", 0)))
	require.NoError(t, l.Insert(ctx, pendingRecord("CODE0002", "U2", 0)))

	_, err := l.TryMarkUsed(ctx, "CODE0001", "R1")
	require.NoError(t, err)

	_, err = l.TryMarkUsed(ctx, "CODE0002", "R1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExternalIDConflict))

	// The losing record must still be pending and redeemable elsewhere.
	rec, err := l.GetByCode(ctx, "CODE0002")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, rec.State)
}

func TestTryMarkUsed_SameRequesterMayRebind(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("CODE0001", "U1", 0)))
	_, err := l.TryMarkUsed(ctx, "CODE0001", "R1")
	require.NoError(t, err)

	require.NoError(t, l.Insert(ctx, pendingRecord("CODE0002", "U1", 0)))
	_, err = l.TryMarkUsed(ctx, "CODE0002", "R1")
	require.NoError(t, err)
}

func TestTryMarkUsed_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("AB12CD34", "U1", 0)))

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.TryMarkUsed(ctx, "AB12CD34", "R1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, alreadyUsed int
	for err := range results {
		if err == nil {
			wins++
		} else if errors.Is(err, domain.ErrAlreadyUsed) {
			alreadyUsed++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, alreadyUsed)
}

func TestInsert_SecondPendingForRequesterRejected(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("CODE0001", "U1", 0)))

	err := l.Insert(ctx, pendingRecord("CODE0002", "U1", 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	// A different requester is unaffected.
	require.NoError(t, l.Insert(ctx, pendingRecord("CODE0003", "U2", 0)))
}

func TestInsert_ExpiredPendingDoesNotBlockReissue(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("OLDCODE1", "U1", -time.Minute)))

	require.NoError(t, l.Insert(ctx, pendingRecord("NEWCODE1", "U1", 0)))

	// The stale record was lazily flipped on the way through.
	rec, err := l.GetByCode(ctx, "OLDCODE1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, rec.State)
}

func TestInsert_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- l.Insert(ctx, pendingRecord(fmt.Sprintf("CODE%04d", i), "U1", 0))
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
		} else if errors.Is(err, domain.ErrConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)

	// Exactly one record is pending, whichever goroutine won.
	rec, err := l.GetActivePending(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, rec.State)
}

func TestGetActivePending_SkipsExpiredAndTerminal(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("OLDCODE1", "U1", -time.Minute)))

	_, err := l.GetActivePending(ctx, "U1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, l.Insert(ctx, pendingRecord("NEWCODE1", "U1", 10*time.Minute)))
	rec, err := l.GetActivePending(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "NEWCODE1", rec.Code)
}

func TestExpire_PendingOnly(t *testing.T) {
	l := NewVerificationLedger()
	ctx := context.Background()
	require.NoError(t, l.Insert(ctx, pendingRecord("AB12CD34", "U1", 0)))
	_, err := l.TryMarkUsed(ctx, "AB12CD34", "R1")
	require.NoError(t, err)

	// Expiring a used record is a no-op, never a rollback.
	require.NoError(t, l.Expire(ctx, "AB12CD34"))
	rec, err := l.GetByCode(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, domain.StateUsed, rec.State)
}
