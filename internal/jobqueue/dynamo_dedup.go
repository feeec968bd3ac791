package jobqueue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/eykd/companion-memory/internal/consts"
)

// DynamoDedupIndex is the production DeduplicationIndex: a conditional put
// keyed by dedup#<logical_id> / <bucket>, sharing the job table.
type DynamoDedupIndex struct {
	api   DynamoAPI
	table string
}

var _ DeduplicationIndex = (*DynamoDedupIndex)(nil)

// NewDynamoDedupIndex wires api against table.
func NewDynamoDedupIndex(api DynamoAPI, table string) *DynamoDedupIndex {
	return &DynamoDedupIndex{api: api, table: table}
}

type dedupItem struct {
	PK    string `dynamodbav:"pk"`
	SK    string `dynamodbav:"sk"`
	JobID string `dynamodbav:"job_id"`
}

func (d *DynamoDedupIndex) TryReserve(ctx context.Context, logicalID, bucket string, jobID uuid.UUID) (ReserveOutcome, error) {
	item := dedupItem{
		PK:    consts.DedupPartition(logicalID),
		SK:    bucket,
		JobID: jobID.String(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return AlreadyReserved, fmt.Errorf("jobqueue: marshal dedup item: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name("pk"))
	exprBuilt, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return AlreadyReserved, fmt.Errorf("jobqueue: build dedup condition: %w", err)
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &d.table,
		Item:                      av,
		ConditionExpression:       exprBuilt.Condition(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailed(err) {
		return AlreadyReserved, nil
	}
	if err != nil {
		return AlreadyReserved, fmt.Errorf("jobqueue: TryReserve: %w", err)
	}
	return Reserved, nil
}

func (d *DynamoDedupIndex) ReservedJob(ctx context.Context, logicalID, bucket string) (uuid.UUID, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.table,
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: consts.DedupPartition(logicalID)},
			"sk": &types.AttributeValueMemberS{Value: bucket},
		},
	})
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("jobqueue: ReservedJob: %w", err)
	}
	if out.Item == nil {
		return uuid.UUID{}, false, nil
	}

	var item dedupItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return uuid.UUID{}, false, fmt.Errorf("jobqueue: unmarshal dedup item: %w", err)
	}
	jobID, err := uuid.Parse(item.JobID)
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("jobqueue: parse dedup job_id: %w", err)
	}
	return jobID, true, nil
}
