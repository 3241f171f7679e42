package domain

import "time"

// Verification states. A record starts pending and ends in exactly one of
// the two terminal states; nothing transitions out of used or expired.
const (
	StatePending = "pending"
	StateUsed    = "used"
	StateExpired = "expired"
)

// VerificationRecord is the ledger entry for one issued code.
// PK: code. ExpiresAt is a Unix timestamp (0 = never expires) also used as
// the DynamoDB native TTL attribute.
type VerificationRecord struct {
	Code        string    `json:"code" dynamodbav:"code"`
	RecordID    string    `json:"id" dynamodbav:"record_id"`
	RequesterID string    `json:"requester_id" dynamodbav:"requester_id"`
	ExternalID  string    `json:"external_id,omitempty" dynamodbav:"external_id"`
	State       string    `json:"state" dynamodbav:"state"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
	ExpiresAt   int64     `json:"expires_at,omitempty" dynamodbav:"expires_at"`
}

// ExpiredAt reports whether the record's TTL has passed at the given instant.
// Records with ExpiresAt == 0 never expire from TTL alone.
func (v *VerificationRecord) ExpiredAt(now time.Time) bool {
	return v.ExpiresAt != 0 && v.ExpiresAt < now.Unix()
}

// ExternalBinding records that an external account has been bound to a
// requester. PK: external_id. Written in the same transaction as the
// pending-to-used flip so an external account can never be bound twice.
type ExternalBinding struct {
	ExternalID  string    `json:"external_id" dynamodbav:"external_id"`
	RequesterID string    `json:"requester_id" dynamodbav:"requester_id"`
	Code        string    `json:"code" dynamodbav:"code"`
	BoundAt     time.Time `json:"bound_at" dynamodbav:"bound_at"`
}
