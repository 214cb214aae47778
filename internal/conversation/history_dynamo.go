package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type sessionItem struct {
	SenderID  string     `dynamodbav:"senderId"`
	History   []wireTurn `dynamodbav:"history"`
	CreatedAt string     `dynamodbav:"createdAt"`
	UpdatedAt string     `dynamodbav:"updatedAt"`
	ExpiresAt int64      `dynamodbav:"expiresAt,omitempty"`
}

// DynamoHistoryBackend stores one item per sender, keyed by senderId.
// expiresAt is written when a ttl is configured so the table's TTL setting
// can reap idle sessions.
type DynamoHistoryBackend struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
}

func NewDynamoHistoryBackend(client dynamoAPI, tableName string, ttl time.Duration) *DynamoHistoryBackend {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		panic("conversation: table name cannot be empty")
	}
	return &DynamoHistoryBackend{client: client, tableName: tableName, ttl: ttl}
}

func (b *DynamoHistoryBackend) Load(ctx context.Context, senderID string) (*Session, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.tableName),
		Key:            sessionItemKey(senderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to fetch session: %w", err)
	}
	if out.Item == nil {
		return nil, ErrSessionNotFound
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	if item.ExpiresAt > 0 && time.Now().Unix() >= item.ExpiresAt {
		// DynamoDB TTL deletion lags; treat expired items as gone.
		return nil, ErrSessionNotFound
	}

	history, err := fromWireTurns(item.History)
	if err != nil {
		return nil, err
	}
	sess := &Session{SenderID: senderID, History: history}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, item.CreatedAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, item.UpdatedAt)
	return sess, nil
}

func (b *DynamoHistoryBackend) Save(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("conversation: session cannot be nil")
	}
	item := sessionItem{
		SenderID:  session.SenderID,
		History:   toWireTurns(session.History),
		CreatedAt: session.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: session.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if b.ttl > 0 {
		item.ExpiresAt = time.Now().Add(b.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	if _, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (b *DynamoHistoryBackend) Delete(ctx context.Context, senderID string) error {
	if _, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key:       sessionItemKey(senderID),
	}); err != nil {
		return fmt.Errorf("conversation: failed to delete session: %w", err)
	}
	return nil
}

func sessionItemKey(senderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"senderId": &types.AttributeValueMemberS{Value: senderID},
	}
}
