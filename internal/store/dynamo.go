// ABOUTME: DynamoDB implementation of the Store interface using aws-sdk-go-v2
// ABOUTME: Conditional writes keep each turn all-or-nothing; user listings query a GSI newest-first

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/2389/chatroom-gateway/internal/lazy"
)

// DefaultUserIndex is the GSI keyed by user_id with last_updated_at as range key
const DefaultUserIndex = "user-id-index"

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoConfig names the tables and index used by DynamoStore
type DynamoConfig struct {
	Table           string
	UserIndex       string
	TranscriptTable string
}

// DynamoStore implements Store (and TranscriptStore when a transcript table is configured)
type DynamoStore struct {
	client *lazy.Value[DynamoAPI]
	cfg    DynamoConfig
	logger *slog.Logger
}

// conversationItem is the DynamoDB item layout
type conversationItem struct {
	ConversationID   string `dynamodbav:"conversation_id"`
	UserID           string `dynamodbav:"user_id"`
	LatestResponseID string `dynamodbav:"latest_response_id"`
	Title            string `dynamodbav:"title"`
	CreatedAt        string `dynamodbav:"created_at"`
	LastUpdatedAt    string `dynamodbav:"last_updated_at"`
}

type transcriptItem struct {
	ResponseID string              `dynamodbav:"response_id"`
	Messages   []TranscriptMessage `dynamodbav:"messages"`
}

// NewDynamoStore creates a store whose client is built on first use by newClient.
func NewDynamoStore(cfg DynamoConfig, newClient lazy.InitFunc[DynamoAPI]) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	if cfg.UserIndex == "" {
		cfg.UserIndex = DefaultUserIndex
	}
	return &DynamoStore{
		client: lazy.New(newClient),
		cfg:    cfg,
		logger: slog.Default().With("component", "store", "backend", "dynamodb"),
	}, nil
}

// NewDynamoStoreWithClient creates a store around an existing client.
func NewDynamoStoreWithClient(cfg DynamoConfig, client DynamoAPI) (*DynamoStore, error) {
	return NewDynamoStore(cfg, func(context.Context) (DynamoAPI, error) { return client, nil })
}

func conversationKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversation_id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (item *conversationItem) toConversation() (*Conversation, error) {
	createdAt, err := ParseTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	updatedAt, err := ParseTime(item.LastUpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing last_updated_at: %w", err)
	}
	return &Conversation{
		ConversationID:   item.ConversationID,
		UserID:           item.UserID,
		LatestResponseID: item.LatestResponseID,
		Title:            item.Title,
		CreatedAt:        createdAt,
		LastUpdatedAt:    updatedAt,
	}, nil
}

// GetConversation retrieves a conversation by id
func (s *DynamoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	client, err := s.client.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating dynamodb client: %w", err)
	}

	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            conversationKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item conversationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	return item.toConversation()
}

// CreateConversation writes a new record unless the id already exists
func (s *DynamoStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	client, err := s.client.Get(ctx)
	if err != nil {
		return fmt.Errorf("creating dynamodb client: %w", err)
	}

	av, err := attributevalue.MarshalMap(conversationItem{
		ConversationID:   conv.ConversationID,
		UserID:           conv.UserID,
		LatestResponseID: conv.LatestResponseID,
		Title:            conv.Title,
		CreatedAt:        FormatTime(conv.CreatedAt),
		LastUpdatedAt:    FormatTime(conv.LastUpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}

	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.cfg.Table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(conversation_id)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("putting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "conversation_id", conv.ConversationID, "user_id", conv.UserID)
	return nil
}

// UpdateConversation advances latest_response_id and last_updated_at on an existing record
func (s *DynamoStore) UpdateConversation(ctx context.Context, id, latestResponseID string, updatedAt time.Time) error {
	client, err := s.client.Get(ctx)
	if err != nil {
		return fmt.Errorf("creating dynamodb client: %w", err)
	}

	_, err = client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.cfg.Table),
		Key:                 conversationKey(id),
		UpdateExpression:    aws.String("SET latest_response_id = :rid, last_updated_at = :ts"),
		ConditionExpression: aws.String("attribute_exists(conversation_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: latestResponseID},
			":ts":  &types.AttributeValueMemberS{Value: FormatTime(updatedAt)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("updating conversation: %w", err)
	}

	s.logger.Debug("updated conversation", "conversation_id", id)
	return nil
}

// ListConversations queries the user index, newest first, following pagination
func (s *DynamoStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	client, err := s.client.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating dynamodb client: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(client, &dynamodb.QueryInput{
		TableName:              aws.String(s.cfg.Table),
		IndexName:              aws.String(s.cfg.UserIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
	})

	convs := []*Conversation{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying conversations: %w", err)
		}

		var items []conversationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decoding conversations: %w", err)
		}
		for i := range items {
			conv, err := items[i].toConversation()
			if err != nil {
				return nil, err
			}
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

// Ping checks that the conversations table is reachable
func (s *DynamoStore) Ping(ctx context.Context) error {
	client, err := s.client.Get(ctx)
	if err != nil {
		return fmt.Errorf("creating dynamodb client: %w", err)
	}
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.cfg.Table)}); err != nil {
		return fmt.Errorf("describing table: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (s *DynamoStore) Close() error {
	return nil
}

// GetTranscript reads a transcript from the transcript table
func (s *DynamoStore) GetTranscript(ctx context.Context, responseID string) ([]TranscriptMessage, error) {
	if s.cfg.TranscriptTable == "" {
		return nil, errors.New("dynamodb transcript table is not configured")
	}
	client, err := s.client.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating dynamodb client: %w", err)
	}

	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.cfg.TranscriptTable),
		Key: map[string]types.AttributeValue{
			"response_id": &types.AttributeValueMemberS{Value: responseID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting transcript: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item transcriptItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return item.Messages, nil
}

// PutTranscript writes a transcript to the transcript table
func (s *DynamoStore) PutTranscript(ctx context.Context, responseID string, messages []TranscriptMessage) error {
	if s.cfg.TranscriptTable == "" {
		return errors.New("dynamodb transcript table is not configured")
	}
	client, err := s.client.Get(ctx)
	if err != nil {
		return fmt.Errorf("creating dynamodb client: %w", err)
	}

	av, err := attributevalue.MarshalMap(transcriptItem{ResponseID: responseID, Messages: messages})
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.cfg.TranscriptTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(response_id)"),
	}); err != nil {
		return fmt.Errorf("putting transcript: %w", err)
	}
	return nil
}

var (
	_ Store           = (*DynamoStore)(nil)
	_ TranscriptStore = (*DynamoStore)(nil)
)
