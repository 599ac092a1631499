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
	"github.com/hashicorp/go-multierror"
)

const (
	// batchWriteLimit is the DynamoDB per-request cap for BatchWriteItem.
	batchWriteLimit = 25
	// batchWriteAttempts bounds how often unprocessed items are resubmitted.
	batchWriteAttempts = 3
)

// NotificationRepo provides typed DynamoDB operations for the notifications table.
type NotificationRepo struct {
	client    API
	tableName string
}

func NewNotificationRepo(client API, tableName string) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName}
}

// Put creates a notification. It fails with ErrConflict if the id is taken.
func (r *NotificationRepo) Put(ctx context.Context, n *domain.Notification) error {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(notification_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("notification %s exists: %w", n.NotificationID, domain.ErrConflict)
	}
	return err
}

// BatchPut commits a set of new notifications with BatchWriteItem, 25 per request.
// Unprocessed items are resubmitted a bounded number of times. It returns the
// ids that were not written; the error is nil only when every one was.
func (r *NotificationRepo) BatchPut(ctx context.Context, ns []domain.Notification) ([]string, error) {
	var unwritten []string
	var errs *multierror.Error
	for _, part := range chunk(ns, batchWriteLimit) {
		reqs := make([]types.WriteRequest, 0, len(part))
		for i := range part {
			item, err := attributevalue.MarshalMap(&part[i])
			if err != nil {
				unwritten = append(unwritten, part[i].NotificationID)
				errs = multierror.Append(errs, fmt.Errorf("marshal notification %s: %w", part[i].NotificationID, err))
				continue
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if left, err := r.writeChunk(ctx, reqs); err != nil {
			unwritten = append(unwritten, left...)
			errs = multierror.Append(errs, err)
		}
	}
	return unwritten, errs.ErrorOrNil()
}

// writeChunk submits one BatchWriteItem request and its retries. On error it
// returns the ids still outstanding.
func (r *NotificationRepo) writeChunk(ctx context.Context, reqs []types.WriteRequest) ([]string, error) {
	pending := map[string][]types.WriteRequest{r.tableName: reqs}
	for attempt := 0; len(pending[r.tableName]) > 0; attempt++ {
		if attempt == batchWriteAttempts {
			left := requestIDs(pending[r.tableName])
			return left, fmt.Errorf("batch write: %d notifications left unprocessed", len(left))
		}
		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return requestIDs(pending[r.tableName]), fmt.Errorf("batch write: %w", err)
		}
		pending = out.UnprocessedItems
	}
	return nil, nil
}

func requestIDs(reqs []types.WriteRequest) []string {
	ids := make([]string, 0, len(reqs))
	for _, w := range reqs {
		if w.PutRequest == nil {
			continue
		}
		if v, ok := w.PutRequest.Item[fieldNotificationID].(*types.AttributeValueMemberS); ok {
			ids = append(ids, v.Value)
		}
	}
	return ids
}

func (r *NotificationRepo) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("notification_id", notificationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	var n domain.Notification
	if err := attributevalue.UnmarshalMap(out.Item, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListSentSince queries the user_id-created_at GSI for delivered notifications
// of the given type and item created at or after since.
func (r *NotificationRepo) ListSentSince(ctx context.Context, userID string, t domain.NotificationType, itemKey string, since time.Time) ([]domain.Notification, error) {
	sinceAV, err := attributevalue.Marshal(since.UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal since: %w", err)
	}
	filter := "#t = :type AND #ns = :true AND "
	values := map[string]types.AttributeValue{
		":uid":   &types.AttributeValueMemberS{Value: userID},
		":since": sinceAV,
		":type":  &types.AttributeValueMemberS{Value: string(t)},
		":true":  &types.AttributeValueMemberBOOL{Value: true},
	}
	if itemKey == domain.NoItem {
		filter += "attribute_not_exists(item_id)"
	} else {
		filter += "item_id = :item"
		values[":item"] = &types.AttributeValueMemberS{Value: itemKey}
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-created_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid AND created_at >= :since"),
		FilterExpression:       aws.String(filter),
		ExpressionAttributeNames: map[string]string{
			"#t":  "type",
			"#ns": fieldNotificationSent,
		},
		ExpressionAttributeValues: values,
	}

	var notifications []domain.Notification
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		var page []domain.Notification
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		notifications = append(notifications, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return notifications, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// MarkSent records a successful delivery.
func (r *NotificationRepo) MarkSent(ctx context.Context, notificationID, dedupeID, messageID string, at time.Time) error {
	return r.resolve(ctx, notificationID, map[string]interface{}{
		fieldNotificationSent: true,
		fieldSentAt:           at.UTC(),
		fieldDedupeID:         dedupeID,
		fieldMessageID:        messageID,
	})
}

// MarkFailed records a terminal delivery failure. dedupeID may be empty when
// the record failed before a key was derived.
func (r *NotificationRepo) MarkFailed(ctx context.Context, notificationID, dedupeID, reason string) error {
	updates := map[string]interface{}{
		fieldNotificationSent: false,
		fieldError:            reason,
	}
	if dedupeID != "" {
		updates[fieldDedupeID] = dedupeID
	}
	return r.resolve(ctx, notificationID, updates)
}

// MarkSuppressed records a duplicate that will never be sent.
func (r *NotificationRepo) MarkSuppressed(ctx context.Context, notificationID, dedupeID string) error {
	return r.resolve(ctx, notificationID, map[string]interface{}{
		fieldNotificationSent: false,
		fieldDuplicate:        true,
		fieldDedupeID:         dedupeID,
	})
}

// resolve applies a terminal update. The write only lands while notification_sent
// is still absent, so a terminal value is never overwritten.
func (r *NotificationRepo) resolve(ctx context.Context, notificationID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#id"] = "notification_id"
	ue.Names["#ns"] = fieldNotificationSent
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("notification_id", notificationID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#id) AND attribute_not_exists(#ns)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("notification %s: %w", notificationID, domain.ErrAlreadyTerminal)
	}
	return err
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
