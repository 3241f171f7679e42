package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/verification-api/internal/domain"
)

// VerificationRepo is the DynamoDB-backed verification ledger.
// PK: code. GSI requester_id-index serves the per-requester pending lookup.
// Two side tables close the races a single conditional put cannot:
// bindings (PK: external_id) enforces external-id exclusivity, pending
// (PK: requester_id) enforces one pending code per requester. Both are
// written in the same transaction as the record they guard.
type VerificationRepo struct {
	client        *dynamodb.Client
	tableName     string
	bindingsTable string
	pendingTable  string
}

func NewVerificationRepo(client *dynamodb.Client, tableName, bindingsTable, pendingTable string) *VerificationRepo {
	return &VerificationRepo{
		client:        client,
		tableName:     tableName,
		bindingsTable: bindingsTable,
		pendingTable:  pendingTable,
	}
}

// pendingPointer is the guard row claiming a requester's single pending slot.
type pendingPointer struct {
	RequesterID string `dynamodbav:"requester_id"`
	Code        string `dynamodbav:"code"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
}

// Insert writes a new pending record and claims the requester's pending
// slot, atomically. Fails with ErrDuplicateCode when the code already
// designates a record, and with ErrConflict when another unexpired pending
// code holds the slot, so neither a collision nor a concurrent issuance can
// leave two pending records for one requester.
func (r *VerificationRepo) Insert(ctx context.Context, rec *domain.VerificationRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	pointerItem, err := attributevalue.MarshalMap(&pendingPointer{
		RequesterID: rec.RequesterID,
		Code:        rec.Code,
		ExpiresAt:   rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal pending pointer: %w", err)
	}

	now := time.Now()
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(code)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(r.pendingTable),
					Item:      pointerItem,
					// The slot is free when no pointer exists or the prior
					// pointer's TTL has passed (lazy expiry).
					ConditionExpression: aws.String(
						"attribute_not_exists(requester_id) OR (#exp <> :never AND #exp <= :now)"),
					ExpressionAttributeNames: map[string]string{
						"#exp": fieldExpiresAt,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":never": &types.AttributeValueMemberN{Value: "0"},
						":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if len(tce.CancellationReasons) > 0 && isConditionFailure(tce.CancellationReasons[0]) {
				return fmt.Errorf("code %q: %w", rec.Code, domain.ErrDuplicateCode)
			}
			if len(tce.CancellationReasons) > 1 && isConditionFailure(tce.CancellationReasons[1]) {
				return fmt.Errorf("requester %q already has a pending code: %w", rec.RequesterID, domain.ErrConflict)
			}
		}
		return err
	}
	return nil
}

func (r *VerificationRepo) GetByCode(ctx context.Context, code string) (*domain.VerificationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("code", code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var rec domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActivePending returns the requester's pending, unexpired record.
func (r *VerificationRepo) GetActivePending(ctx context.Context, requesterID string) (*domain.VerificationRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("requester_id-index"),
		KeyConditionExpression: aws.String("requester_id = :rid"),
		FilterExpression:       aws.String("#st = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#st": fieldState,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid":     &types.AttributeValueMemberS{Value: requesterID},
			":pending": &types.AttributeValueMemberS{Value: domain.StatePending},
		},
	})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, item := range out.Items {
		var rec domain.VerificationRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, err
		}
		if !rec.ExpiredAt(now) {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("no active verification for requester: %w", domain.ErrNotFound)
}

// TryMarkUsed atomically flips a pending record to used, binds the external
// id, and releases the requester's pending slot, as a single DynamoDB
// transaction:
//
//	update verifications — iff state = pending and TTL not passed
//	put    bindings      — iff external_id unbound, or bound to the same requester
//	delete pending       — iff the slot still points at this code
//
// Concurrent callers observe exactly one winner. On cancellation the failure
// is classified into ErrNotFound / ErrAlreadyUsed / ErrExpired /
// ErrExternalIDConflict so callers can report precisely.
func (r *VerificationRepo) TryMarkUsed(ctx context.Context, codeVal, externalID string) (*domain.VerificationRecord, error) {
	rec, err := r.GetByCode(ctx, codeVal)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	binding := &domain.ExternalBinding{
		ExternalID:  externalID,
		RequesterID: rec.RequesterID,
		Code:        codeVal,
		BoundAt:     now.UTC(),
	}
	bindingItem, err := attributevalue.MarshalMap(binding)
	if err != nil {
		return nil, fmt.Errorf("marshal binding: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           aws.String(r.tableName),
					Key:                 strKey("code", codeVal),
					UpdateExpression:    aws.String("SET #st = :used, #ext = :ext"),
					ConditionExpression: aws.String("#st = :pending AND (#exp = :never OR #exp > :now)"),
					ExpressionAttributeNames: map[string]string{
						"#st":  fieldState,
						"#ext": fieldExternalID,
						"#exp": fieldExpiresAt,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":used":    &types.AttributeValueMemberS{Value: domain.StateUsed},
						":pending": &types.AttributeValueMemberS{Value: domain.StatePending},
						":ext":     &types.AttributeValueMemberS{Value: externalID},
						":never":   &types.AttributeValueMemberN{Value: "0"},
						":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(r.bindingsTable),
					Item:                bindingItem,
					ConditionExpression: aws.String("attribute_not_exists(external_id) OR requester_id = :rid"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":rid": &types.AttributeValueMemberS{Value: rec.RequesterID},
					},
				},
			},
			r.releasePendingSlot(rec.RequesterID, codeVal),
		},
	})
	if err != nil {
		return nil, r.classifyRedeemFailure(ctx, err, codeVal)
	}

	rec.State = domain.StateUsed
	rec.ExternalID = externalID
	return rec, nil
}

// releasePendingSlot frees the requester's pending slot when it still points
// at the given code. An active pending record always owns its requester's
// slot, so the condition only ever trips for stale records whose slot was
// lazily reclaimed by a later issuance.
func (r *VerificationRepo) releasePendingSlot(requesterID, codeVal string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(r.pendingTable),
			Key:                 strKey("requester_id", requesterID),
			ConditionExpression: aws.String("attribute_not_exists(requester_id) OR code = :code"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":code": &types.AttributeValueMemberS{Value: codeVal},
			},
		},
	}
}

// classifyRedeemFailure maps a failed TryMarkUsed transaction onto a domain
// sentinel. The transaction cancellation reasons arrive positionally: index 0
// is the ledger update, index 1 the binding put, index 2 the slot release.
func (r *VerificationRepo) classifyRedeemFailure(ctx context.Context, err error, codeVal string) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return err
	}
	if len(tce.CancellationReasons) > 1 && isConditionFailure(tce.CancellationReasons[1]) {
		return fmt.Errorf("external id bound to another requester: %w", domain.ErrExternalIDConflict)
	}
	if len(tce.CancellationReasons) > 0 && isConditionFailure(tce.CancellationReasons[0]) {
		rec, getErr := r.GetByCode(ctx, codeVal)
		if getErr != nil {
			return fmt.Errorf("verification not found: %w", domain.ErrNotFound)
		}
		switch {
		case rec.State == domain.StateUsed:
			return fmt.Errorf("code %q: %w", codeVal, domain.ErrAlreadyUsed)
		case rec.State == domain.StateExpired || rec.ExpiredAt(time.Now()):
			// Lazy expiry: flip the stale record so later reads agree.
			if rec.State == domain.StatePending {
				if expErr := r.Expire(ctx, codeVal); expErr != nil {
					slog.Warn("could not expire stale verification", "code_id", rec.RecordID, "err", expErr)
				}
			}
			return fmt.Errorf("code %q: %w", codeVal, domain.ErrExpired)
		}
	}
	return err
}

func isConditionFailure(reason types.CancellationReason) bool {
	return reason.Code != nil && *reason.Code == "ConditionalCheckFailed"
}

// Expire flips a pending record to expired and releases the requester's
// pending slot. A no-op if the record has already reached a terminal state.
func (r *VerificationRepo) Expire(ctx context.Context, codeVal string) error {
	rec, err := r.GetByCode(ctx, codeVal)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           aws.String(r.tableName),
					Key:                 strKey("code", codeVal),
					UpdateExpression:    aws.String("SET #st = :expired"),
					ConditionExpression: aws.String("#st = :pending"),
					ExpressionAttributeNames: map[string]string{
						"#st": fieldState,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":expired": &types.AttributeValueMemberS{Value: domain.StateExpired},
						":pending": &types.AttributeValueMemberS{Value: domain.StatePending},
					},
				},
			},
			r.releasePendingSlot(rec.RequesterID, codeVal),
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, reason := range tce.CancellationReasons {
				if isConditionFailure(reason) {
					return nil
				}
			}
		}
		return err
	}
	return nil
}
