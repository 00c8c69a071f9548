package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "JOB#"
	skMeta   = "META"
	skFile   = "FILE#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25

	// maxBatchAttempts bounds resubmission of UnprocessedItems.
	maxBatchAttempts = 5
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements JobStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time

	// retryBase is the first backoff delay for unprocessed writes; it doubles
	// on each attempt.
	retryBase time.Duration
}

// Compile-time interface check.
var _ JobStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
		retryBase: 50 * time.Millisecond,
	}
}

// --- Internal helpers ---

func jobPK(jobID string) string {
	return pkPrefix + jobID
}

func fileSK(index int) string {
	return fmt.Sprintf("%s%05d", skFile, index)
}

func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(JobTTL).Unix()
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// marshalItem marshals a domain object and adds PK, SK, and TTL.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
func (s *DynamoStore) marshalItem(pk, sk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}
	return item, nil
}

func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := s.marshalItem(pk, sk, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix returns all items of a job whose SK begins with skPrefix.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, jobID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := jobPK(jobID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var allItems []map[string]types.AttributeValue

	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// batchPutItems writes items in chunks of maxBatchWrite. Items DynamoDB
// returns as unprocessed are resubmitted with exponential backoff; any still
// left after maxBatchAttempts fail the call.
func (s *DynamoStore) batchPutItems(ctx context.Context, items []map[string]types.AttributeValue) error {
	for i := 0; i < len(items); i += maxBatchWrite {
		end := i + maxBatchWrite
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-i)
		for _, item := range items[i:end] {
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}
		if err := s.writeChunk(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) writeChunk(ctx context.Context, requests []types.WriteRequest) error {
	delay := s.retryBase
	for attempt := 1; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem put (%d items): %w", len(requests), err)
		}
		requests = out.UnprocessedItems[s.tableName]
		if len(requests) == 0 {
			return nil
		}
		if attempt == maxBatchAttempts {
			return fmt.Errorf("BatchWriteItem put: %d items unprocessed after %d attempts", len(requests), attempt)
		}

		log.Warn().Int("unprocessed", len(requests)).Int("attempt", attempt).Dur("backoff", delay).
			Msg("BatchWriteItem left items unprocessed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// --- Job operations ---

func (s *DynamoStore) PutJob(ctx context.Context, rec *JobRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().Unix()
	}
	if err := s.putItem(ctx, jobPK(rec.JobID), skMeta, rec); err != nil {
		return fmt.Errorf("put job %s: %w", rec.JobID, err)
	}
	log.Debug().Str("jobId", rec.JobID).Str("status", string(rec.Status)).Msg("Job persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	found, err := s.getItem(ctx, jobPK(jobID), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}
	rec.JobID = jobID
	return &rec, nil
}

// CompleteJob updates the META record in place so that fields written at
// submission (queue job id, resources) survive. The update creates the
// record if the job was started without going through the dispatcher.
func (s *DynamoStore) CompleteJob(ctx context.Context, job *batch.Job, result *batch.Result) error {
	t := result.Totals()
	status := result.Status()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key:       keyOf(jobPK(job.ID), skMeta),
		UpdateExpression: aws.String("SET #s = :s, message = :m, successCount = :ok, failureCount = :fail, " +
			"fileCount = :n, finishedAt = :fin, expiresAt = :exp, inputBucket = :ib, inputPrefix = :ip, " +
			"outputBucket = :ob, outputPrefix = :op, referenceKey = :ref"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // "status" is a DynamoDB reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":    &types.AttributeValueMemberS{Value: string(status)},
			":m":    &types.AttributeValueMemberS{Value: result.Message()},
			":ok":   &types.AttributeValueMemberN{Value: strconv.Itoa(t.Success)},
			":fail": &types.AttributeValueMemberN{Value: strconv.Itoa(t.Failure)},
			":n":    &types.AttributeValueMemberN{Value: strconv.Itoa(len(job.Files))},
			":fin":  &types.AttributeValueMemberN{Value: strconv.FormatInt(result.FinishedAt.Unix(), 10)},
			":exp":  &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)},
			":ib":   &types.AttributeValueMemberS{Value: job.InputBucket},
			":ip":   &types.AttributeValueMemberS{Value: job.InputPrefix},
			":ob":   &types.AttributeValueMemberS{Value: job.OutputBucket},
			":op":   &types.AttributeValueMemberS{Value: job.OutputPrefix},
			":ref":  &types.AttributeValueMemberS{Value: job.Reference.Key},
		},
	})
	if err != nil {
		return fmt.Errorf("complete job %s -> %s: %w", job.ID, status, err)
	}

	items := make([]map[string]types.AttributeValue, 0, len(result.Outcomes))
	for i, o := range result.Outcomes {
		item, err := s.marshalItem(jobPK(job.ID), fileSK(i), o)
		if err != nil {
			return fmt.Errorf("marshal outcome %s: %w", o.InputKey, err)
		}
		items = append(items, item)
	}
	if err := s.batchPutItems(ctx, items); err != nil {
		return fmt.Errorf("put outcomes of job %s: %w", job.ID, err)
	}

	log.Debug().Str("jobId", job.ID).Str("status", string(status)).Int("outcomes", len(items)).Msg("Job completion persisted")
	return nil
}

func (s *DynamoStore) GetOutcomes(ctx context.Context, jobID string) ([]batch.FileOutcome, error) {
	items, err := s.queryBySKPrefix(ctx, jobID, skFile)
	if err != nil {
		return nil, fmt.Errorf("get outcomes of job %s: %w", jobID, err)
	}

	outcomes := make([]batch.FileOutcome, 0, len(items))
	for _, item := range items {
		var o batch.FileOutcome
		if err := attributevalue.UnmarshalMap(item, &o); err != nil {
			log.Warn().Err(err).Str("jobId", jobID).Msg("Failed to unmarshal file outcome, skipping")
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
