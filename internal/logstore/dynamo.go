package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/eykd/companion-memory/internal/consts"
)

// DynamoAPI is the subset of *dynamodb.Client DynamoStore needs.
type DynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore is a reference Store reading raw log entries from the same
// table the job queue uses, on a distinct partition per user. It exists so
// handlers have something to query against in this repo; the entries
// themselves are written by the ingestion endpoint, which is out of scope
// here.
type DynamoStore struct {
	api   DynamoAPI
	table string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore wires api against table.
func NewDynamoStore(api DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table}
}

func logPartition(userID string) string { return "log#" + userID }

type logItem struct {
	Entry string `dynamodbav:"entry"`
}

func (s *DynamoStore) Entries(ctx context.Context, userID string, from, to time.Time) ([]string, error) {
	if to.Before(from) {
		return nil, errors.New("logstore: to before from")
	}

	keyCond := expression.Key("pk").Equal(expression.Value(logPartition(userID))).
		And(expression.Key("sk").Between(
			expression.Value(from.UTC().Format(consts.SortKeyTimeLayout)),
			expression.Value(to.UTC().Format(consts.SortKeyTimeLayout)),
		))
	exprBuilt, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("logstore: build Entries expression: %w", err)
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &s.table,
		KeyConditionExpression:    exprBuilt.KeyCondition(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
		ScanIndexForward:          boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("logstore: Entries: %w", err)
	}

	entries := make([]string, 0, len(out.Items))
	for _, raw := range out.Items {
		var item logItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("logstore: unmarshal entry: %w", err)
		}
		entries = append(entries, item.Entry)
	}
	return entries, nil
}

func boolPtr(v bool) *bool { return &v }
