package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/verification-api/internal/domain"
)

// TicketRepo maps requesters to their private verification channels.
// PK: requester_id — the table itself enforces at most one ticket per
// requester; Reserve's conditional put decides which concurrent opener
// creates the channel.
type TicketRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewTicketRepo(client *dynamodb.Client, tableName string) *TicketRepo {
	return &TicketRepo{client: client, tableName: tableName}
}

// Reserve claims the requester's ticket slot. Returns ErrConflict when a
// ticket row already exists; the caller then reads the existing row instead
// of creating a second channel.
func (r *TicketRepo) Reserve(ctx context.Context, t *domain.Ticket) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(requester_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("ticket already open: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *TicketRepo) Get(ctx context.Context, requesterID string) (*domain.Ticket, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("requester_id", requesterID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("ticket not found: %w", domain.ErrNotFound)
	}
	var t domain.Ticket
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetChannel records the platform channel once the winning opener created it.
func (r *TicketRepo) SetChannel(ctx context.Context, requesterID, channelRef string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldChannelRef: channelRef})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("requester_id", requesterID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

// Delete removes the ticket mapping. Deleting an absent row is not an error.
func (r *TicketRepo) Delete(ctx context.Context, requesterID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("requester_id", requesterID),
	})
	return err
}

// List scans all open tickets. Used only by the dangling-ticket sweeper;
// the table stays small because tickets are torn down on redemption.
func (r *TicketRepo) List(ctx context.Context) ([]domain.Ticket, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return nil, err
	}
	var tickets []domain.Ticket
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}
