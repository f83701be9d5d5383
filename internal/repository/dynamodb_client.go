package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"linebot-bridge/internal/domain"
)

const (
	attrPK   = "pk"
	attrSK   = "sk"
	attrRole = "role"
	attrText = "text"

	// maxSequenceAttempts bounds sort-key re-allocation when a concurrent
	// writer already holds the chosen millisecond.
	maxSequenceAttempts = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// HistoryReadWriter defines the conversation history operations consumed by
// the reply pipeline.
type HistoryReadWriter interface {
	Append(ctx context.Context, conversationKey string, role domain.Role, text string) error
	LoadAll(ctx context.Context, conversationKey string) ([]domain.Turn, error)
}

var _ HistoryReadWriter = (*Client)(nil)

// Client wraps a DynamoDB table holding an append-only turn log per
// conversation key.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttlAttr   string
	retention time.Duration
	seq       *sequenceClock
	now       func() time.Time
}

type Option func(*Client)

// WithClock overrides the wall clock used for sort keys and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
		c.seq = newSequenceClock(now)
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName, ttlAttr string, retention time.Duration, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(ttlAttr) == "" {
		return nil, errors.New("repository: ttl attribute name must not be empty")
	}
	switch strings.TrimSpace(ttlAttr) {
	case attrPK, attrSK, attrRole, attrText:
		return nil, fmt.Errorf("repository: ttl attribute %q collides with a reserved attribute", ttlAttr)
	}
	if retention <= 0 {
		return nil, errors.New("repository: retention must be positive")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		ttlAttr:   strings.TrimSpace(ttlAttr),
		retention: retention,
		seq:       newSequenceClock(time.Now),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Append writes one new turn. The sort key is a strictly increasing
// millisecond sequence; an existing item is never overwritten.
func (c *Client) Append(ctx context.Context, conversationKey string, role domain.Role, text string) error {
	if strings.TrimSpace(conversationKey) == "" {
		return errors.New("repository: Append: conversation key is required")
	}

	expiresAt := c.now().Add(c.retention).Unix()
	var lastErr error
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		turn := domain.Turn{
			ConversationKey: conversationKey,
			Sequence:        c.seq.next(),
			Role:            role,
			Text:            text,
			ExpiresAt:       expiresAt,
		}
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                c.turnItem(turn),
			ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
		})
		if err == nil {
			return nil
		}

		var conflict *types.ConditionalCheckFailedException
		if !errors.As(err, &conflict) {
			return fmt.Errorf("repository: Append: %w", err)
		}
		// Another writer holds this millisecond; move past it.
		c.seq.observe(turn.Sequence)
		lastErr = err
	}
	return fmt.Errorf("repository: Append: sort key still taken after %d attempts: %w", maxSequenceAttempts, lastErr)
}

// LoadAll returns every turn for a conversation, oldest first. Query results
// are capped per call by DynamoDB, so pages are followed via LastEvaluatedKey
// until the partition is exhausted.
func (c *Client) LoadAll(ctx context.Context, conversationKey string) ([]domain.Turn, error) {
	var (
		turns    []domain.Turn
		startKey map[string]types.AttributeValue
	)
	for page := 1; ; page++ {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("pk = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: conversationKey},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: LoadAll query page %d: %w", page, err)
		}
		if out == nil {
			break
		}

		for _, item := range out.Items {
			turn, err := c.itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: LoadAll unmarshal: %w", err)
			}
			turns = append(turns, turn)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return turns, nil
}

func (c *Client) turnItem(t domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK:    &types.AttributeValueMemberS{Value: t.ConversationKey},
		attrSK:    &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Sequence, 10)},
		attrRole:  &types.AttributeValueMemberS{Value: string(t.Role)},
		attrText:  &types.AttributeValueMemberS{Value: t.Text},
		c.ttlAttr: &types.AttributeValueMemberN{Value: strconv.FormatInt(t.ExpiresAt, 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn. Role, text and expiry
// are optional; the key attributes are not.
func (c *Client) itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, attrPK)
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := intAttr(item, attrSK)
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, attrRole)
	if err != nil || role == "" {
		role = string(domain.RoleUser)
	}
	text, _ := strAttr(item, attrText)       // allow empty
	expiresAt, _ := intAttr(item, c.ttlAttr) // allow missing

	return domain.Turn{
		ConversationKey: pk,
		Sequence:        sk,
		Role:            domain.Role(role),
		Text:            text,
		ExpiresAt:       expiresAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
