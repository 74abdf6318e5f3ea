// Package localddb implements the part of the DynamoDB API used by the movies
// client on top of BadgerDB, so the client can run without an AWS account.
//
// Requests and responses use the aws-sdk-go-v2 types and errors, so callers
// cannot tell the local store from *dynamodb.Client for the supported
// operations: CreateTable, DescribeTable, PutItem, GetItem, UpdateItem and
// DeleteItem.
package localddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// InMemoryPath selects an in-memory store when used as Options.Path.
const InMemoryPath = ":memory:"

// Options configures the BadgerDB store.
type Options struct {
	// Path to the database directory. Empty or InMemoryPath uses in-memory mode.
	Path string
	// Logger for BadgerDB. If nil, badger logging is disabled.
	Logger badger.Logger
}

// Store is a DynamoDB compatible table store backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens, creating it if needed, the store described by opts.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.Path == InMemoryPath {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type keyAttribute struct {
	Name    string                    `json:"name"`
	KeyType types.KeyType             `json:"keyType"`
	Type    types.ScalarAttributeType `json:"type"`
}

type tableSchema struct {
	Name          string            `json:"name"`
	Keys          []keyAttribute    `json:"keys"`
	BillingMode   types.BillingMode `json:"billingMode"`
	ReadCapacity  int64             `json:"readCapacity"`
	WriteCapacity int64             `json:"writeCapacity"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func (t *tableSchema) arn() string {
	return fmt.Sprintf("arn:aws:dynamodb:local:000000000000:table/%s", t.Name)
}

func (t *tableSchema) isKey(name string) bool {
	for _, k := range t.Keys {
		if k.Name == name {
			return true
		}
	}
	return false
}

func (t *tableSchema) description(itemCount int64) *types.TableDescription {
	desc := &types.TableDescription{
		TableName:        aws.String(t.Name),
		TableArn:         aws.String(t.arn()),
		TableStatus:      types.TableStatusActive,
		CreationDateTime: aws.Time(t.CreatedAt),
		ItemCount:        aws.Int64(itemCount),
		BillingModeSummary: &types.BillingModeSummary{
			BillingMode: t.BillingMode,
		},
		ProvisionedThroughput: &types.ProvisionedThroughputDescription{
			ReadCapacityUnits:  aws.Int64(t.ReadCapacity),
			WriteCapacityUnits: aws.Int64(t.WriteCapacity),
		},
	}

	for _, k := range t.Keys {
		desc.KeySchema = append(desc.KeySchema, types.KeySchemaElement{
			AttributeName: aws.String(k.Name),
			KeyType:       k.KeyType,
		})
		desc.AttributeDefinitions = append(desc.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(k.Name),
			AttributeType: k.Type,
		})
	}

	return desc
}

// CreateTable creates a table. Tables are ACTIVE as soon as they are created.
func (s *Store) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	schema, err := newTableSchema(params)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode table schema: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(tableKey(schema.Name))
		switch {
		case err == nil:
			return &types.ResourceInUseException{
				Message: aws.String(fmt.Sprintf("Table already exists: %s", schema.Name)),
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		return txn.Set(tableKey(schema.Name), data)
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.CreateTableOutput{TableDescription: schema.description(0)}, nil
}

// DescribeTable returns the description of an existing table.
func (s *Store) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if params == nil || aws.ToString(params.TableName) == "" {
		return nil, validationError("TableName is required")
	}

	var desc *types.TableDescription
	err := s.db.View(func(txn *badger.Txn) error {
		schema, err := getTable(txn, params.TableName)
		if err != nil {
			return err
		}

		var count int64
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = itemPrefix(schema.Name)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}

		desc = schema.description(count)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

func newTableSchema(params *dynamodb.CreateTableInput) (*tableSchema, error) {
	if params == nil || aws.ToString(params.TableName) == "" {
		return nil, validationError("TableName is required")
	}

	schema := &tableSchema{
		Name:        aws.ToString(params.TableName),
		BillingMode: params.BillingMode,
		CreatedAt:   time.Now().UTC(),
	}
	if schema.BillingMode == "" {
		schema.BillingMode = types.BillingModeProvisioned
	}

	switch schema.BillingMode {
	case types.BillingModeProvisioned:
		pt := params.ProvisionedThroughput
		if pt == nil || aws.ToInt64(pt.ReadCapacityUnits) < 1 || aws.ToInt64(pt.WriteCapacityUnits) < 1 {
			return nil, validationError("ProvisionedThroughput must be specified with positive capacity units when BillingMode is PROVISIONED")
		}
		schema.ReadCapacity = aws.ToInt64(pt.ReadCapacityUnits)
		schema.WriteCapacity = aws.ToInt64(pt.WriteCapacityUnits)
	case types.BillingModePayPerRequest:
	default:
		return nil, validationError("unsupported BillingMode %q", schema.BillingMode)
	}

	if n := len(params.KeySchema); n < 1 || n > 2 {
		return nil, validationError("KeySchema must have one or two elements")
	}

	attrTypes := make(map[string]types.ScalarAttributeType, len(params.AttributeDefinitions))
	for _, def := range params.AttributeDefinitions {
		attrTypes[aws.ToString(def.AttributeName)] = def.AttributeType
	}

	for i, el := range params.KeySchema {
		name := aws.ToString(el.AttributeName)
		wantType := types.KeyTypeHash
		if i == 1 {
			wantType = types.KeyTypeRange
		}
		if el.KeyType != wantType {
			return nil, validationError("key schema element %d for %q must be %s", i, name, wantType)
		}

		typ, ok := attrTypes[name]
		if !ok {
			return nil, validationError("no attribute definition for key attribute %q", name)
		}

		schema.Keys = append(schema.Keys, keyAttribute{Name: name, KeyType: el.KeyType, Type: typ})
	}

	return schema, nil
}

func getTable(txn *badger.Txn, name *string) (*tableSchema, error) {
	if aws.ToString(name) == "" {
		return nil, validationError("TableName is required")
	}

	entry, err := txn.Get(tableKey(aws.ToString(name)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String("Requested resource not found"),
		}
	}
	if err != nil {
		return nil, err
	}

	var schema tableSchema
	err = entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &schema)
	})
	if err != nil {
		return nil, fmt.Errorf("decode table schema: %w", err)
	}

	return &schema, nil
}
