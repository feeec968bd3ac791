package singleton

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/eykd/companion-memory/internal/consts"
)

// DynamoAPI is the subset of *dynamodb.Client DynamoLock needs.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLock is the production Lock: a single fixed-key record shared by
// every process in the fleet, through the same table the job queue uses.
type DynamoLock struct {
	api   DynamoAPI
	table string
}

var _ Lock = (*DynamoLock)(nil)

// NewDynamoLock wires api against table.
func NewDynamoLock(api DynamoAPI, table string) *DynamoLock {
	return &DynamoLock{api: api, table: table}
}

type lockItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	ProcessID string `dynamodbav:"process_id"`
	ExpiresAt string `dynamodbav:"expires_at"`
}

func lockKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: consts.PartitionLock},
		"sk": &types.AttributeValueMemberS{Value: consts.SortLock},
	}
}

func (l *DynamoLock) Acquire(ctx context.Context, processID string, ttl time.Duration, now time.Time) (bool, error) {
	item := lockItem{
		PK:        consts.PartitionLock,
		SK:        consts.SortLock,
		ProcessID: processID,
		ExpiresAt: now.Add(ttl).UTC().Format(consts.SortKeyTimeLayout),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("singleton: marshal lock item: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name("pk")).
		Or(expression.Name("expires_at").LessThan(expression.Value(now.UTC().Format(consts.SortKeyTimeLayout))))
	exprBuilt, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, fmt.Errorf("singleton: build Acquire condition: %w", err)
	}

	_, err = l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &l.table,
		Item:                      av,
		ConditionExpression:       exprBuilt.Condition(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailedErr(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("singleton: Acquire: %w", err)
	}
	return true, nil
}

func (l *DynamoLock) Refresh(ctx context.Context, processID string, ttl time.Duration, now time.Time) (RefreshOutcome, error) {
	cond := expression.Name("process_id").Equal(expression.Value(processID))
	update := expression.Set(expression.Name("expires_at"), expression.Value(now.Add(ttl).UTC().Format(consts.SortKeyTimeLayout)))

	exprBuilt, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return Lost, fmt.Errorf("singleton: build Refresh expression: %w", err)
	}

	_, err = l.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &l.table,
		Key:                       lockKey(),
		ConditionExpression:       exprBuilt.Condition(),
		UpdateExpression:          exprBuilt.Update(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailedErr(err) {
		return Lost, nil
	}
	if err != nil {
		return Lost, fmt.Errorf("singleton: Refresh: %w", err)
	}
	return Refreshed, nil
}

func (l *DynamoLock) Release(ctx context.Context, processID string) error {
	cond := expression.Name("process_id").Equal(expression.Value(processID))
	exprBuilt, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("singleton: build Release condition: %w", err)
	}

	_, err = l.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 &l.table,
		Key:                       lockKey(),
		ConditionExpression:       exprBuilt.Condition(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailedErr(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("singleton: Release: %w", err)
	}
	return nil
}

func (l *DynamoLock) Holder(ctx context.Context, now time.Time) (string, bool, error) {
	out, err := l.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &l.table,
		Key:       lockKey(),
	})
	if err != nil {
		return "", false, fmt.Errorf("singleton: Holder: %w", err)
	}
	if out.Item == nil {
		return "", false, nil
	}

	var item lockItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, fmt.Errorf("singleton: unmarshal lock item: %w", err)
	}
	expiresAt, err := time.Parse(consts.SortKeyTimeLayout, item.ExpiresAt)
	if err != nil {
		return "", false, fmt.Errorf("singleton: parse expires_at: %w", err)
	}
	if !expiresAt.After(now) {
		return "", false, nil
	}
	return item.ProcessID, true, nil
}

func isConditionalCheckFailedErr(err error) bool {
	if err == nil {
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}
