// Package dynamo provides a DynamoDB-backed implementation of the storage.Backend interface.
//
// All collections share one table. The partition key is the collection name and
// the sort key is the document ID, so a collection query is a single-partition
// Query ordered by ID.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mapchat/syncd/internal/storage"
)

// Ensure Backend implements storage.Backend
var _ storage.Backend = (*Backend)(nil)

const (
	maxTransactItems = 100
	commitAttempts   = 5
)

// API is the subset of the DynamoDB client used by Backend.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Config selects the table and, for local development, a custom endpoint.
type Config struct {
	Table    string
	Region   string
	Endpoint string
}

// Backend implements storage.Backend on a DynamoDB table.
type Backend struct {
	client API
	table  string
	now    func() time.Time
}

// New loads the default AWS configuration and opens the table.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Table), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, table string) *Backend {
	return &Backend{client: client, table: table, now: time.Now}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (b *Backend) Close() error {
	return nil
}

// EnsureTable creates the table with on-demand billing when it does not exist.
func (b *Backend) EnsureTable(ctx context.Context) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)})
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return fmt.Errorf("failed to describe table '%s': %w", b.table, err)
	}

	_, err = b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(b.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPartition), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSort), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPartition), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSort), KeyType: types.KeyTypeRange},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create table '%s': %w", b.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(b.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("table '%s' did not become active: %w", b.table, err)
	}
	return nil
}

// Get reads one document with a strongly consistent read.
func (b *Backend) Get(ctx context.Context, key storage.Key) (*storage.Document, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from table '%s': %w", b.table, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return fromItem(out.Item)
}

// Query reads one collection partition, filtering server-side and paging until
// the limit is reached.
func (b *Backend) Query(ctx context.Context, collection string, opts storage.QueryOptions) ([]*storage.Document, error) {
	input, err := b.queryInput(collection, opts)
	if err != nil {
		return nil, err
	}

	var docs []*storage.Document
	for {
		out, err := b.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query table '%s': %w", b.table, err)
		}
		for _, item := range out.Items {
			doc, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
			if opts.Limit > 0 && len(docs) == opts.Limit {
				return docs, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (b *Backend) queryInput(collection string, opts storage.QueryOptions) (*dynamodb.QueryInput, error) {
	expr := newExpression()
	pv, err := expr.value(collection)
	if err != nil {
		return nil, err
	}
	keyCondition := expr.name(attrPartition) + " = " + pv

	terms := make([]string, 0, len(opts.Filters))
	for _, f := range opts.Filters {
		term, err := expr.filter(f)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(b.table),
		KeyConditionExpression:    aws.String(keyCondition),
		ExpressionAttributeNames:  expr.namesOrNil(),
		ExpressionAttributeValues: expr.valuesOrNil(),
		ScanIndexForward:          aws.Bool(!opts.Descending),
		ConsistentRead:            aws.Bool(true),
	}
	if len(terms) > 0 {
		input.FilterExpression = aws.String(strings.Join(terms, " AND "))
	}
	return input, nil
}

// state is the working copy of one document while a commit is planned.
type state struct {
	data    []byte
	version int64
	exists  bool
	// original is the version read before planning; the write is guarded on it.
	original int64
}

// Commit applies all mutations in one TransactWriteItems call. Every write is
// guarded on the version read just before, so a concurrent writer cancels the
// transaction. Without caller preconditions the commit is retried on a fresh read.
func (b *Backend) Commit(ctx context.Context, mutations []storage.Mutation) ([]storage.Change, error) {
	keys := distinctKeys(mutations)
	if len(keys) > maxTransactItems {
		return nil, fmt.Errorf("batch touches %d documents, the limit is %d", len(keys), maxTransactItems)
	}

	for attempt := 0; attempt < commitAttempts; attempt++ {
		states, err := b.read(ctx, keys)
		if err != nil {
			return nil, err
		}
		changes, err := plan(mutations, states)
		if err != nil {
			return nil, err
		}
		items, err := b.writes(keys, states)
		if err != nil {
			return nil, err
		}

		_, err = b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			return changes, nil
		}
		if !conditionFailed(err) {
			return nil, fmt.Errorf("failed to write items to table '%s': %w", b.table, err)
		}
		if hasPreconditions(mutations) {
			return nil, fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", storage.ErrConflict, commitAttempts)
}

func distinctKeys(mutations []storage.Mutation) []storage.Key {
	seen := make(map[storage.Key]bool, len(mutations))
	keys := make([]storage.Key, 0, len(mutations))
	for _, m := range mutations {
		if !seen[m.Key] {
			seen[m.Key] = true
			keys = append(keys, m.Key)
		}
	}
	return keys
}

func hasPreconditions(mutations []storage.Mutation) bool {
	for _, m := range mutations {
		if m.MatchVersion != 0 {
			return true
		}
	}
	return false
}

func conditionFailed(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// read fetches the current state of every key in one consistent snapshot.
func (b *Backend) read(ctx context.Context, keys []storage.Key) (map[storage.Key]*state, error) {
	gets := make([]types.TransactGetItem, len(keys))
	for i, key := range keys {
		gets[i] = types.TransactGetItem{Get: &types.Get{TableName: aws.String(b.table), Key: keyOf(key)}}
	}
	out, err := b.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: gets})
	if err != nil {
		return nil, fmt.Errorf("failed to read items from table '%s': %w", b.table, err)
	}

	states := make(map[storage.Key]*state, len(keys))
	for i, key := range keys {
		st := &state{}
		if i < len(out.Responses) && out.Responses[i].Item != nil {
			doc, err := fromItem(out.Responses[i].Item)
			if err != nil {
				return nil, err
			}
			st.data, st.version, st.exists = doc.Data, doc.Version, true
		}
		st.original = st.version
		states[key] = st
	}
	return states, nil
}

// plan applies mutations to the working states in order and returns their changes.
func plan(mutations []storage.Mutation, states map[storage.Key]*state) ([]storage.Change, error) {
	changes := make([]storage.Change, 0, len(mutations))
	for _, m := range mutations {
		st := states[m.Key]
		if err := storage.CheckPrecondition(m, st.version); err != nil {
			return nil, err
		}

		switch m.Kind {
		case storage.MutationSet:
			st.data = m.Data
		case storage.MutationUpdate:
			if !st.exists {
				return nil, fmt.Errorf("%w: cannot update %s", storage.ErrNotFound, m.Key)
			}
			merged, err := storage.MergeFields(st.data, m.Data)
			if err != nil {
				return nil, err
			}
			st.data = merged
		case storage.MutationDelete:
			changes = append(changes, storage.Change{Key: m.Key, Kind: storage.ChangeDelete, Version: st.version})
			st.data, st.version, st.exists = nil, 0, false
			continue
		default:
			return nil, fmt.Errorf("unsupported mutation kind %d", m.Kind)
		}
		st.version++
		st.exists = true
		changes = append(changes, storage.Change{Key: m.Key, Kind: storage.ChangePut, Data: st.data, Version: st.version})
	}
	return changes, nil
}

// writes renders the final state of each key as a guarded Put or Delete.
func (b *Backend) writes(keys []storage.Key, states map[storage.Key]*state) ([]types.TransactWriteItem, error) {
	now := b.now()
	items := make([]types.TransactWriteItem, 0, len(keys))
	for _, key := range keys {
		st := states[key]
		expr := newExpression()
		condition, err := expr.precondition(st.original)
		if err != nil {
			return nil, err
		}

		if !st.exists {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName:                 aws.String(b.table),
				Key:                       keyOf(key),
				ConditionExpression:       aws.String(condition),
				ExpressionAttributeNames:  expr.namesOrNil(),
				ExpressionAttributeValues: expr.valuesOrNil(),
			}})
			continue
		}

		item, err := toItem(key, st.data, st.version, now)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(b.table),
			Item:                      item,
			ConditionExpression:       aws.String(condition),
			ExpressionAttributeNames:  expr.namesOrNil(),
			ExpressionAttributeValues: expr.valuesOrNil(),
		}})
	}
	return items, nil
}
