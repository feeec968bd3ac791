package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/eykd/companion-memory/internal/consts"
)

// DynamoAPI is the subset of *dynamodb.Client the store needs, narrowed so
// it can be faked in tests without a live table.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const dueIndexName = "gsi_due"

// DynamoStore is the production JobStore: a single DynamoDB table, one item
// per job keyed by job_id, with a GSI over (due marker, scheduled_for) so
// QueryDue is a Query rather than a Scan.
type DynamoStore struct {
	api   DynamoAPI
	table string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore wires api against table.
func NewDynamoStore(api DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table}
}

type dynamoItem struct {
	PK            string `dynamodbav:"pk"`
	SK            string `dynamodbav:"sk"`
	JobID         string `dynamodbav:"job_id"`
	JobType       string `dynamodbav:"job_type"`
	Payload       []byte `dynamodbav:"payload"`
	ScheduledFor  string `dynamodbav:"scheduled_for"`
	Status        string `dynamodbav:"status"`
	Attempts      int    `dynamodbav:"attempts"`
	LockedBy      string `dynamodbav:"locked_by"`
	LockExpiresAt string `dynamodbav:"lock_expires_at,omitempty"`
	LastError     string `dynamodbav:"last_error,omitempty"`
	CreatedAt     string `dynamodbav:"created_at"`
	CompletedAt   string `dynamodbav:"completed_at,omitempty"`
	LogicalID     string `dynamodbav:"logical_id,omitempty"`
	Bucket        string `dynamodbav:"bucket,omitempty"`

	// DueMarker and DueSort back the gsi_due index; only pending jobs are
	// queried through it, but every item carries them so a status
	// transition can clear them without a separate delete.
	DueMarker string `dynamodbav:"due_marker,omitempty"`
	DueSort   string `dynamodbav:"due_sort,omitempty"`
}

func jobPK(jobID uuid.UUID) string { return "job#" + jobID.String() }

const jobSK = "record"

func toItem(rec JobRecord) dynamoItem {
	item := dynamoItem{
		PK:           jobPK(rec.JobID),
		SK:           jobSK,
		JobID:        rec.JobID.String(),
		JobType:      rec.JobType,
		Payload:      rec.Payload,
		ScheduledFor: rec.ScheduledFor.UTC().Format(consts.SortKeyTimeLayout),
		Status:       string(rec.Status),
		Attempts:     rec.Attempts,
		LockedBy:     rec.LockedBy,
		CreatedAt:    rec.CreatedAt.UTC().Format(consts.SortKeyTimeLayout),
		LogicalID:    rec.LogicalID,
		Bucket:       rec.Bucket,
	}
	if !rec.LockExpiresAt.IsZero() {
		item.LockExpiresAt = rec.LockExpiresAt.UTC().Format(consts.SortKeyTimeLayout)
	}
	if !rec.CompletedAt.IsZero() {
		item.CompletedAt = rec.CompletedAt.UTC().Format(consts.SortKeyTimeLayout)
	}
	if rec.Status == StatusPending {
		item.DueMarker = "due"
		item.DueSort = item.ScheduledFor + "#" + item.JobID
	}
	return item
}

func fromItem(item dynamoItem) (JobRecord, error) {
	jobID, err := uuid.Parse(item.JobID)
	if err != nil {
		return JobRecord{}, fmt.Errorf("jobqueue: parse job_id: %w", err)
	}
	scheduledFor, err := time.Parse(consts.SortKeyTimeLayout, item.ScheduledFor)
	if err != nil {
		return JobRecord{}, fmt.Errorf("jobqueue: parse scheduled_for: %w", err)
	}
	createdAt, err := time.Parse(consts.SortKeyTimeLayout, item.CreatedAt)
	if err != nil {
		return JobRecord{}, fmt.Errorf("jobqueue: parse created_at: %w", err)
	}

	rec := JobRecord{
		JobID:        jobID,
		JobType:      item.JobType,
		Payload:      item.Payload,
		ScheduledFor: scheduledFor,
		Status:       Status(item.Status),
		Attempts:     item.Attempts,
		LockedBy:     item.LockedBy,
		LastError:    item.LastError,
		CreatedAt:    createdAt,
		LogicalID:    item.LogicalID,
		Bucket:       item.Bucket,
	}
	if item.LockExpiresAt != "" {
		t, err := time.Parse(consts.SortKeyTimeLayout, item.LockExpiresAt)
		if err != nil {
			return JobRecord{}, fmt.Errorf("jobqueue: parse lock_expires_at: %w", err)
		}
		rec.LockExpiresAt = t
	}
	if item.CompletedAt != "" {
		t, err := time.Parse(consts.SortKeyTimeLayout, item.CompletedAt)
		if err != nil {
			return JobRecord{}, fmt.Errorf("jobqueue: parse completed_at: %w", err)
		}
		rec.CompletedAt = t
	}
	return rec, nil
}

func (s *DynamoStore) Insert(ctx context.Context, job *JobRecord) error {
	rec := *job
	rec.Status = StatusPending
	rec.Attempts = 0
	rec.LockedBy = ""
	rec.LockExpiresAt = time.Time{}
	rec.CompletedAt = time.Time{}
	item := toItem(rec)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal job item: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name("pk"))
	exprBuilt, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("jobqueue: build insert condition: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &s.table,
		Item:                      av,
		ConditionExpression:       exprBuilt.Condition(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if err != nil {
		return fmt.Errorf("jobqueue: insert: %w", err)
	}
	*job = rec
	return nil
}

func (s *DynamoStore) QueryDue(ctx context.Context, now time.Time, limit int) ([]JobRecord, error) {
	upperBound := now.UTC().Format(consts.SortKeyTimeLayout) + "#~"

	keyCond := expression.Key("due_marker").Equal(expression.Value("due")).
		And(expression.Key("due_sort").LessThanEqual(expression.Value(upperBound)))
	filter := expression.Name("status").Equal(expression.Value(string(StatusPending)))

	exprBuilt, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: build QueryDue expression: %w", err)
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &s.table,
		IndexName:                 awsString(dueIndexName),
		KeyConditionExpression:    exprBuilt.KeyCondition(),
		FilterExpression:          exprBuilt.Filter(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
		Limit:                     int32Ptr(int32(limit)),
		ScanIndexForward:          boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("jobqueue: QueryDue: %w", err)
	}

	recs := make([]JobRecord, 0, len(out.Items))
	for _, raw := range out.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("jobqueue: unmarshal due item: %w", err)
		}
		rec, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		// A lease still in effect excludes the job from this poll.
		if !rec.LockExpiresAt.IsZero() && rec.LockExpiresAt.After(now) {
			continue
		}
		if rec.ScheduledFor.After(now) {
			continue
		}
		recs = append(recs, rec)
		if limit > 0 && len(recs) >= limit {
			break
		}
	}
	return recs, nil
}

func (s *DynamoStore) Claim(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (ClaimOutcome, error) {
	cond := expression.Name("status").In(expression.Value(string(StatusPending)), expression.Value(string(StatusInProgress))).
		And(expression.Or(
			expression.AttributeNotExists(expression.Name("lock_expires_at")),
			expression.Name("lock_expires_at").Equal(expression.Value("")),
			expression.Name("lock_expires_at").LessThan(expression.Value(now.UTC().Format(consts.SortKeyTimeLayout))),
		))
	update := expression.Set(expression.Name("status"), expression.Value(string(StatusInProgress))).
		Set(expression.Name("locked_by"), expression.Value(workerID)).
		Set(expression.Name("lock_expires_at"), expression.Value(now.Add(lease).UTC().Format(consts.SortKeyTimeLayout))).
		Set(expression.Name("attempts"), expression.Plus(expression.Name("attempts"), expression.Value(1))).
		Remove(expression.Name("due_marker")).
		Remove(expression.Name("due_sort"))

	exprBuilt, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return ClaimLostRace, fmt.Errorf("jobqueue: build Claim expression: %w", err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.table,
		Key:                       jobKey(jobID),
		ConditionExpression:       exprBuilt.Condition(),
		UpdateExpression:          exprBuilt.Update(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailed(err) {
		return ClaimLostRace, nil
	}
	if err != nil {
		return ClaimLostRace, fmt.Errorf("jobqueue: Claim: %w", err)
	}
	return ClaimWon, nil
}

func (s *DynamoStore) RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (RenewOutcome, error) {
	cond := expression.Name("status").Equal(expression.Value(string(StatusInProgress))).
		And(expression.Name("locked_by").Equal(expression.Value(workerID)))
	update := expression.Set(expression.Name("lock_expires_at"), expression.Value(now.Add(lease).UTC().Format(consts.SortKeyTimeLayout)))

	exprBuilt, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return RenewLost, fmt.Errorf("jobqueue: build RenewLease expression: %w", err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.table,
		Key:                       jobKey(jobID),
		ConditionExpression:       exprBuilt.Condition(),
		UpdateExpression:          exprBuilt.Update(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailed(err) {
		return RenewLost, nil
	}
	if err != nil {
		return RenewLost, fmt.Errorf("jobqueue: RenewLease: %w", err)
	}
	return RenewOK, nil
}

func (s *DynamoStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time) error {
	cond := expression.Name("locked_by").Equal(expression.Value(workerID))
	update := expression.Set(expression.Name("status"), expression.Value(string(StatusCompleted))).
		Set(expression.Name("completed_at"), expression.Value(now.UTC().Format(consts.SortKeyTimeLayout))).
		Remove(expression.Name("locked_by")).
		Remove(expression.Name("lock_expires_at")).
		Remove(expression.Name("due_marker")).
		Remove(expression.Name("due_sort"))

	return s.conditionalUpdate(ctx, jobID, cond, update, "MarkCompleted")
}

func (s *DynamoStore) MarkFailedForRetry(ctx context.Context, jobID uuid.UUID, workerID string, nextRun time.Time, lastError string) error {
	cond := expression.Name("locked_by").Equal(expression.Value(workerID))
	update := expression.Set(expression.Name("status"), expression.Value(string(StatusPending))).
		Set(expression.Name("scheduled_for"), expression.Value(nextRun.UTC().Format(consts.SortKeyTimeLayout))).
		Set(expression.Name("last_error"), expression.Value(lastError)).
		Set(expression.Name("due_marker"), expression.Value("due")).
		Set(expression.Name("due_sort"), expression.Value(nextRun.UTC().Format(consts.SortKeyTimeLayout)+"#"+jobID.String())).
		Remove(expression.Name("locked_by")).
		Remove(expression.Name("lock_expires_at"))

	return s.conditionalUpdate(ctx, jobID, cond, update, "MarkFailedForRetry")
}

func (s *DynamoStore) MarkDeadLetter(ctx context.Context, jobID uuid.UUID, workerID string, lastError string) error {
	cond := expression.Name("locked_by").Equal(expression.Value(workerID))
	update := expression.Set(expression.Name("status"), expression.Value(string(StatusDeadLetter))).
		Set(expression.Name("last_error"), expression.Value(lastError)).
		Remove(expression.Name("locked_by")).
		Remove(expression.Name("lock_expires_at")).
		Remove(expression.Name("due_marker")).
		Remove(expression.Name("due_sort"))

	return s.conditionalUpdate(ctx, jobID, cond, update, "MarkDeadLetter")
}

func (s *DynamoStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	cond := expression.Name("status").Equal(expression.Value(string(StatusPending)))
	update := expression.Set(expression.Name("status"), expression.Value(string(StatusCancelled))).
		Remove(expression.Name("due_marker")).
		Remove(expression.Name("due_sort"))

	return s.conditionalUpdate(ctx, jobID, cond, update, "Cancel")
}

func (s *DynamoStore) conditionalUpdate(ctx context.Context, jobID uuid.UUID, cond expression.ConditionBuilder, update expression.UpdateBuilder, op string) error {
	exprBuilt, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("jobqueue: build %s expression: %w", op, err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.table,
		Key:                       jobKey(jobID),
		ConditionExpression:       exprBuilt.Condition(),
		UpdateExpression:          exprBuilt.Update(),
		ExpressionAttributeNames:  exprBuilt.Names(),
		ExpressionAttributeValues: exprBuilt.Values(),
	})
	if isConditionalCheckFailed(err) {
		// Expected: the CAS precondition no longer holds (another worker
		// owns the lease, or the job already reached a terminal state).
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobqueue: %s: %w", op, err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, jobID uuid.UUID) (JobRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key:       jobKey(jobID),
	})
	if err != nil {
		return JobRecord{}, fmt.Errorf("jobqueue: Get: %w", err)
	}
	if out.Item == nil {
		return JobRecord{}, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return JobRecord{}, fmt.Errorf("jobqueue: unmarshal job item: %w", err)
	}
	return fromItem(item)
}

func jobKey(jobID uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: jobPK(jobID)},
		"sk": &types.AttributeValueMemberS{Value: jobSK},
	}
}

func isConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

func awsString(s string) *string { return &s }
func int32Ptr(v int32) *int32    { return &v }
func boolPtr(v bool) *bool       { return &v }

