package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecothreads-notify/internal/domain"
)

// ItemRepo provides the item queries the shipment follow-up sweep needs.
// Follow-up records are written to notificationsTable.
type ItemRepo struct {
	client             API
	tableName          string
	notificationsTable string
}

func NewItemRepo(client API, tableName, notificationsTable string) *ItemRepo {
	return &ItemRepo{client: client, tableName: tableName, notificationsTable: notificationsTable}
}

// ListFollowupDue scans for sold items whose receipt is unconfirmed, that were
// sold at or before soldBefore and have not had a follow-up yet.
func (r *ItemRepo) ListFollowupDue(ctx context.Context, soldBefore time.Time) ([]domain.Item, error) {
	cutAV, err := attributevalue.Marshal(soldBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal cutoff: %w", err)
	}
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("#st = :sold AND receipt_confirmed = :f AND followup_sent = :f AND sold_at <= :cut"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sold": &types.AttributeValueMemberS{Value: domain.ItemStatusSold},
			":f":    &types.AttributeValueMemberBOOL{Value: false},
			":cut":  cutAV,
		},
	}
	var items []domain.Item
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		var page []domain.Item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// CommitFollowup creates the follow-up record n and flags itemID in one
// transaction, so the item stays due unless both land. Returns ErrConflict
// when another sweep flagged the item first.
func (r *ItemRepo) CommitFollowup(ctx context.Context, itemID string, n *domain.Notification) error {
	record, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	ue, err := buildUpdateExpr(map[string]interface{}{fieldFollowupSent: true})
	if err != nil {
		return err
	}
	ue.Values[":f"] = &types.AttributeValueMemberBOOL{Value: false}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		// The record id makes a retried request idempotent.
		ClientRequestToken: aws.String(n.NotificationID),
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.notificationsTable),
				Item:                record,
				ConditionExpression: aws.String("attribute_not_exists(notification_id)"),
			}},
			{Update: &types.Update{
				TableName:                 aws.String(r.tableName),
				Key:                       strKey("item_id", itemID),
				UpdateExpression:          aws.String(ue.Expr),
				ConditionExpression:       aws.String("#f0 = :f"),
				ExpressionAttributeNames:  ue.Names,
				ExpressionAttributeValues: ue.Values,
			}},
		},
	})
	if isTxConditionFailed(err, 1) {
		return fmt.Errorf("item %s follow-up already sent: %w", itemID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("commit follow-up for item %s: %w", itemID, err)
	}
	return nil
}
