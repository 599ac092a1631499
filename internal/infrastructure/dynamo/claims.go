package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecothreads-notify/internal/domain"
)

// ClaimRepo reserves dedupe keys. PK: dedupe_id, TTL: expires_at.
type ClaimRepo struct {
	client    API
	tableName string
}

func NewClaimRepo(client API, tableName string) *ClaimRepo {
	return &ClaimRepo{client: client, tableName: tableName}
}

// Claim stores c only if no live claim exists for its dedupe id at now, or the
// live claim already belongs to c's notification. The latter lets a replay of
// a record whose outcome write failed go through; the push may then be sent
// twice. A lost race returns ErrConflict.
func (r *ClaimRepo) Claim(ctx context.Context, c *domain.DedupeClaim, now time.Time) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	// TTL deletion lags, so an expired claim must not block a new one.
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(dedupe_id) OR expires_at < :now OR notification_id = :nid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":nid": &types.AttributeValueMemberS{Value: c.NotificationID},
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("dedupe key %s already claimed: %w", c.DedupeID, domain.ErrConflict)
	}
	return err
}

// Release drops the claim held by notificationID. Claims owned by another
// notification are left alone.
func (r *ClaimRepo) Release(ctx context.Context, dedupeID, notificationID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("dedupe_id", dedupeID),
		ConditionExpression: aws.String("notification_id = :nid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":nid": &types.AttributeValueMemberS{Value: notificationID},
		},
	})
	if isConditionFailed(err) {
		return nil
	}
	return err
}
