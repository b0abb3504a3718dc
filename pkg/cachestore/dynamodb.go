package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/xid"
)

const (
	backendDynamo = "dynamodb"

	// registry partition holding one item per cache name
	dynamoRegistry = "#caches"

	// DynamoDB limits
	dynamoBatchWriteLimit = 25
	dynamoTransactLimit   = 100
	dynamoTransactBytes   = 4 << 20

	// entries whose encoding exceeds dynamoInlineLimit are split into part
	// items of at most dynamoPartSize bytes, well below the 400KB item cap
	dynamoInlineLimit = 32 << 10
	dynamoPartSize    = 256 << 10

	// separates the entry key from the part suffix in a part's sort key
	dynamoPartSep = "\x00"
)

// ErrBatchTooLarge is returned by the DynamoDB PutAll when the batch cannot
// be committed in a single transaction. Nothing is written in that case.
var ErrBatchTooLarge = errors.New("batch exceeds dynamodb transaction limits")

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStorage.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStorage stores generations in a single DynamoDB table with a
// composite primary key: partition "cache" (S), sort "request_key" (S).
// Cache names live in the reserved partition "#caches".
type DynamoStorage struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

type dynamoCache struct {
	s    *DynamoStorage
	name string
}

// dynamoItem is a registry item, an entry or one part of a split entry.
// A split entry keeps Entry empty and points at its parts through PartsID.
type dynamoItem struct {
	Cache      string `dynamodbav:"cache"`
	RequestKey string `dynamodbav:"request_key"`
	Entry      []byte `dynamodbav:"entry,omitempty"`
	CreatedAt  int64  `dynamodbav:"created_at,omitempty"`
	Parts      int    `dynamodbav:"parts,omitempty"`
	PartsID    string `dynamodbav:"parts_id,omitempty"`
}

func partKey(requestKey, partsID string, i int) string {
	return fmt.Sprintf("%s%s%s/%04d", requestKey, dynamoPartSep, partsID, i)
}

// partKeys lists the sort keys of the parts an entry item points at.
func (it dynamoItem) partKeys() []string {
	keys := make([]string, 0, it.Parts)
	for i := 0; i < it.Parts; i++ {
		keys = append(keys, partKey(it.RequestKey, it.PartsID, i))
	}
	return keys
}

// NewDynamoStorage creates a storage on an existing table.
func NewDynamoStorage(client DynamoAPI, table string) (*DynamoStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	return &DynamoStorage{
		client: client,
		table:  table,
		now:    time.Now,
	}, nil
}

// CreateDynamoTable creates the table layout DynamoStorage expects.
func CreateDynamoTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("cache"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("request_key"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("cache"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("request_key"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	return err
}

func dynamoKey(partition, sort string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache":       &types.AttributeValueMemberS{Value: partition},
		"request_key": &types.AttributeValueMemberS{Value: sort},
	}
}

// Open returns the named cache, registering it if needed.
func (s *DynamoStorage) Open(ctx context.Context, name string) (Cache, error) {
	av, err := attributevalue.MarshalMap(dynamoItem{
		Cache:      dynamoRegistry,
		RequestKey: name,
		CreatedAt:  s.now().UnixNano(),
	})
	if err != nil {
		return nil, observe(backendDynamo, "open", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(request_key)"),
	})
	var exists *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &exists) {
		return nil, observe(backendDynamo, "open", fmt.Errorf("register cache %q: %w", name, err))
	}
	return &dynamoCache{s: s, name: name}, nil
}

// Has reports whether the named cache exists.
func (s *DynamoStorage) Has(ctx context.Context, name string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            dynamoKey(dynamoRegistry, name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, observe(backendDynamo, "has", fmt.Errorf("lookup cache %q: %w", name, err))
	}
	return out.Item != nil, nil
}

// Delete removes every entry of the named cache, then its registry item.
// Entry removal is batched and not atomic; a crash midway leaves orphaned
// entries that a later Delete removes.
func (s *DynamoStorage) Delete(ctx context.Context, name string) (bool, error) {
	items, err := s.query(ctx, name)
	if err != nil {
		return false, observe(backendDynamo, "delete", err)
	}

	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.RequestKey)
	}
	if err := s.deleteKeys(ctx, name, keys); err != nil {
		return false, observe(backendDynamo, "delete", fmt.Errorf("delete entries of %q: %w", name, err))
	}

	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          dynamoKey(dynamoRegistry, name),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, observe(backendDynamo, "delete", fmt.Errorf("delete cache %q: %w", name, err))
	}
	return len(out.Attributes) > 0, nil
}

func (s *DynamoStorage) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: requests}
	for attempt := 0; len(pending[s.table]) > 0; attempt++ {
		if attempt > 5 {
			return fmt.Errorf("%d unprocessed items", len(pending[s.table]))
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// deleteKeys batch-deletes the given sort keys of a partition.
func (s *DynamoStorage) deleteKeys(ctx context.Context, partition string, keys []string) error {
	for start := 0; start < len(keys); start += dynamoBatchWriteLimit {
		end := min(start+dynamoBatchWriteLimit, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: dynamoKey(partition, k)},
			})
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists cache names in creation order.
func (s *DynamoStorage) Keys(ctx context.Context) ([]string, error) {
	items, err := s.query(ctx, dynamoRegistry)
	if err != nil {
		return nil, observe(backendDynamo, "keys", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt == items[j].CreatedAt {
			return items[i].RequestKey < items[j].RequestKey
		}
		return items[i].CreatedAt < items[j].CreatedAt
	})
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.RequestKey)
	}
	return names, nil
}

// Match returns the first entry for key across all caches.
func (s *DynamoStorage) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		entry, err := (&dynamoCache{s: s, name: name}).Match(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		CacheHits.WithLabelValues(name).Inc()
		return entry, nil
	}
	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

// Close is a no-op.
func (s *DynamoStorage) Close() error {
	return nil
}

// query returns every item of a partition without entry data.
func (s *DynamoStorage) query(ctx context.Context, partition string) ([]dynamoItem, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#c = :c"),
		ProjectionExpression:   aws.String("#k, #t, #p, #i"),
		ExpressionAttributeNames: map[string]string{
			"#c": "cache",
			"#k": "request_key",
			"#t": "created_at",
			"#p": "parts",
			"#i": "parts_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: partition},
		},
		ConsistentRead: aws.Bool(true),
	})

	var items []dynamoItem
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", partition, err)
		}
		var batch []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", partition, err)
		}
		items = append(items, batch...)
	}
	return items, nil
}

func (c *dynamoCache) Name() string {
	return c.name
}

func (c *dynamoCache) get(ctx context.Context, requestKey string) (*dynamoItem, error) {
	out, err := c.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.s.table),
		Key:            dynamoKey(c.name, requestKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &item, nil
}

// Match reads the entry item and, for split entries, its parts. A part that
// vanished under a concurrent overwrite triggers a re-read of the entry item.
func (c *dynamoCache) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	for attempt := 0; attempt < 3; attempt++ {
		item, err := c.get(ctx, key.String())
		if err != nil {
			return nil, observe(backendDynamo, "match", fmt.Errorf("get %s in %q: %w", key, c.name, err))
		}
		if item == nil {
			return nil, ErrCacheMiss
		}
		if item.Parts == 0 {
			entry, err := decodeEntry(item.Entry)
			return entry, observe(backendDynamo, "match", err)
		}

		data, complete, err := c.assemble(ctx, item)
		if err != nil {
			return nil, observe(backendDynamo, "match", fmt.Errorf("get parts of %s in %q: %w", key, c.name, err))
		}
		if complete {
			entry, err := decodeEntry(data)
			return entry, observe(backendDynamo, "match", err)
		}
	}
	return nil, observe(backendDynamo, "match", fmt.Errorf("%w: parts of %s in %q are missing", ErrInvalidEntry, key, c.name))
}

func (c *dynamoCache) assemble(ctx context.Context, item *dynamoItem) ([]byte, bool, error) {
	var data []byte
	for _, k := range item.partKeys() {
		part, err := c.get(ctx, k)
		if err != nil {
			return nil, false, err
		}
		if part == nil {
			return nil, false, nil
		}
		data = append(data, part.Entry...)
	}
	return data, true, nil
}

// split encodes entry into its entry item and, when the encoding exceeds
// dynamoInlineLimit, the part items holding the data.
func (c *dynamoCache) split(entry *Entry) (dynamoItem, []dynamoItem, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return dynamoItem{}, nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	item := dynamoItem{Cache: c.name, RequestKey: entry.Key().String()}
	if len(data) <= dynamoInlineLimit {
		item.Entry = data
		return item, nil, nil
	}

	item.PartsID = xid.New().String()
	var parts []dynamoItem
	for start := 0; start < len(data); start += dynamoPartSize {
		end := min(start+dynamoPartSize, len(data))
		parts = append(parts, dynamoItem{
			Cache:      c.name,
			RequestKey: partKey(item.RequestKey, item.PartsID, len(parts)),
			Entry:      data[start:end],
		})
	}
	item.Parts = len(parts)
	return item, parts, nil
}

// stage writes part items. They stay unreachable until an entry item
// pointing at them is written.
func (c *dynamoCache) stage(ctx context.Context, parts []dynamoItem) error {
	for start := 0; start < len(parts); start += dynamoBatchWriteLimit {
		end := min(start+dynamoBatchWriteLimit, len(parts))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, part := range parts[start:end] {
			av, err := attributevalue.MarshalMap(part)
			if err != nil {
				return err
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		if err := c.s.batchWrite(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

// discard removes part items that no entry item points at anymore.
// Failures only leave orphans behind, which the generation delete removes.
func (c *dynamoCache) discard(ctx context.Context, items ...dynamoItem) {
	var keys []string
	for _, it := range items {
		keys = append(keys, it.partKeys()...)
	}
	if len(keys) == 0 {
		return
	}
	_ = observe(backendDynamo, "discard_parts", c.s.deleteKeys(context.WithoutCancel(ctx), c.name, keys))
}

// Put stages the parts of a split entry, then swaps the entry item in with
// a single PutItem, so readers see either the old or the new entry.
func (c *dynamoCache) Put(ctx context.Context, entry *Entry) error {
	item, parts, err := c.split(entry)
	if err != nil {
		return observe(backendDynamo, "put", err)
	}
	if err := c.stage(ctx, parts); err != nil {
		c.discard(ctx, item)
		return observe(backendDynamo, "put", fmt.Errorf("stage parts of %s in %q: %w", entry.Key(), c.name, err))
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		c.discard(ctx, item)
		return observe(backendDynamo, "put", err)
	}
	out, err := c.s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(c.s.table),
		Item:         av,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		c.discard(ctx, item)
		return observe(backendDynamo, "put", fmt.Errorf("put %s in %q: %w", entry.Key(), c.name, err))
	}
	c.discardReplaced(ctx, out.Attributes, item)
	CacheWrites.WithLabelValues(c.name).Inc()
	return nil
}

// discardReplaced removes the parts of an overwritten entry item.
func (c *dynamoCache) discardReplaced(ctx context.Context, old map[string]types.AttributeValue, current dynamoItem) {
	if len(old) == 0 {
		return
	}
	var prev dynamoItem
	if err := attributevalue.UnmarshalMap(old, &prev); err != nil || prev.PartsID == "" || prev.PartsID == current.PartsID {
		return
	}
	c.discard(ctx, prev)
}

// PutAll commits every entry item in one TransactWriteItems call, after
// staging the parts of split entries. Batches that cannot fit in a single
// transaction fail with ErrBatchTooLarge before anything is written.
func (c *dynamoCache) PutAll(ctx context.Context, entries []*Entry) error {
	if len(entries) > dynamoTransactLimit {
		return observe(backendDynamo, "put_all", fmt.Errorf("%w: %d entries, limit %d", ErrBatchTooLarge, len(entries), dynamoTransactLimit))
	}

	items := make([]dynamoItem, 0, len(entries))
	writes := make([]types.TransactWriteItem, 0, len(entries))
	var parts []dynamoItem
	size := 0
	for _, entry := range entries {
		item, p, err := c.split(entry)
		if err != nil {
			return observe(backendDynamo, "put_all", err)
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return observe(backendDynamo, "put_all", err)
		}
		size += len(item.Cache) + len(item.RequestKey) + len(item.Entry) + len(item.PartsID) + 64
		items = append(items, item)
		parts = append(parts, p...)
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(c.s.table), Item: av},
		})
	}
	if size > dynamoTransactBytes {
		return observe(backendDynamo, "put_all", fmt.Errorf("%w: about %d bytes, limit %d", ErrBatchTooLarge, size, dynamoTransactBytes))
	}

	replaced, err := c.splitItems(ctx)
	if err != nil {
		return observe(backendDynamo, "put_all", err)
	}
	if err := c.stage(ctx, parts); err != nil {
		c.discard(ctx, items...)
		return observe(backendDynamo, "put_all", fmt.Errorf("stage parts in %q: %w", c.name, err))
	}
	if _, err := c.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	}); err != nil {
		c.discard(ctx, items...)
		return observe(backendDynamo, "put_all", fmt.Errorf("transact write %q: %w", c.name, err))
	}

	for _, item := range items {
		if prev, ok := replaced[item.RequestKey]; ok && prev.PartsID != item.PartsID {
			c.discard(ctx, prev)
		}
	}
	CacheWrites.WithLabelValues(c.name).Add(float64(len(entries)))
	return nil
}

// splitItems returns the split entry items of the cache by request key.
func (c *dynamoCache) splitItems(ctx context.Context) (map[string]dynamoItem, error) {
	all, err := c.s.query(ctx, c.name)
	if err != nil {
		return nil, err
	}
	items := make(map[string]dynamoItem)
	for _, it := range all {
		if it.PartsID != "" && !strings.Contains(it.RequestKey, dynamoPartSep) {
			items[it.RequestKey] = it
		}
	}
	return items, nil
}

func (c *dynamoCache) Delete(ctx context.Context, key RequestKey) (bool, error) {
	out, err := c.s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(c.s.table),
		Key:          dynamoKey(c.name, key.String()),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, observe(backendDynamo, "delete_entry", fmt.Errorf("delete %s in %q: %w", key, c.name, err))
	}
	c.discardReplaced(ctx, out.Attributes, dynamoItem{})
	return len(out.Attributes) > 0, nil
}

func (c *dynamoCache) Keys(ctx context.Context) ([]RequestKey, error) {
	items, err := c.s.query(ctx, c.name)
	if err != nil {
		return nil, observe(backendDynamo, "entry_keys", err)
	}
	fields := make([]string, 0, len(items))
	for _, it := range items {
		if strings.Contains(it.RequestKey, dynamoPartSep) {
			continue
		}
		fields = append(fields, it.RequestKey)
	}
	return parseKeys(fields)
}
