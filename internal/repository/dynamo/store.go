// Package dynamo implements session.Store on a DynamoDB table keyed by PK.
// Concurrent updates are resolved optimistically: every write is
// conditional on the Version the writer read, and a lost race re-reads and
// re-applies the update.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ErrConflict is returned when Update keeps losing the version race.
var ErrConflict = errors.New("dynamo: too many concurrent updates")

const maxAttempts = 10

// Item is one stored session.
type Item struct {
	PK        string `dynamodbav:"PK"`
	Data      string `dynamodbav:"Data"`
	Version   int64  `dynamodbav:"Version"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// Store implements session.Store.
type Store struct {
	api   API
	table string
}

// NewStore creates a store on table.
func NewStore(api API, table string) *Store {
	return &Store{api: api, table: table}
}

func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: id}}
}

func (s *Store) load(ctx context.Context, id string) (*domain.TrackingSession, int64, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, unavailable("get "+id, err)
	}
	if len(out.Item) == 0 {
		return nil, 0, session.ErrNotFound
	}
	return decodeItem(out.Item)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.TrackingSession, error) {
	sess, _, err := s.load(ctx, id)
	return sess, err
}

func (s *Store) GetAll(ctx context.Context) (map[string]*domain.TrackingSession, error) {
	out := make(map[string]*domain.TrackingSession)
	var start map[string]types.AttributeValue
	for {
		page, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, raw := range page.Items {
			sess, _, err := decodeItem(raw)
			if err != nil {
				return nil, err
			}
			out[sess.ID] = sess
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

// Put replaces the session unconditionally and bumps its version.
func (s *Store) Put(ctx context.Context, sess *domain.TrackingSession) error {
	_, version, err := s.load(ctx, sess.ID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return s.write(ctx, sess, version+1, nil)
}

func (s *Store) Update(ctx context.Context, id string, fn session.UpdateFunc) (*domain.TrackingSession, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, version, err := s.load(ctx, id)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}

		next, err := fn(cur.Clone())
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		next.ID = id

		cond := "attribute_not_exists(PK)"
		values := map[string]types.AttributeValue(nil)
		if cur != nil {
			cond = "Version = :v"
			values = map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: fmt.Sprint(version)},
			}
		}
		err = s.write(ctx, next, version+1, &condition{expr: cond, values: values})
		if err == nil {
			return next, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update %s: %w", id, ErrConflict)
}

type condition struct {
	expr   string
	values map[string]types.AttributeValue
}

func (s *Store) write(ctx context.Context, sess *domain.TrackingSession, version int64, cond *condition) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	av, err := attributevalue.MarshalMap(Item{
		PK:        sess.ID,
		Data:      string(data),
		Version:   version,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", sess.ID, err)
	}

	in := &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}
	if cond != nil {
		in.ConditionExpression = aws.String(cond.expr)
		in.ExpressionAttributeValues = cond.values
	}
	if _, err := s.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return err
		}
		return unavailable("put "+sess.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	})
	if err != nil {
		return unavailable("delete "+id, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	all, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	for id := range all {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func decodeItem(raw map[string]types.AttributeValue) (*domain.TrackingSession, int64, error) {
	var item Item
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, 0, fmt.Errorf("unmarshal item: %w", err)
	}
	var sess domain.TrackingSession
	if err := json.Unmarshal([]byte(item.Data), &sess); err != nil {
		return nil, 0, fmt.Errorf("decode session %s: %w", item.PK, err)
	}
	sess.ID = item.PK
	sess.Normalize()
	return &sess, item.Version, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("dynamodb %s: %w: %w", op, session.ErrStoreUnavailable, err)
}
