package movies

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by Store.
type DynamoAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// Store performs item level operations against the movies table. Every method
// issues exactly one request through Dynamo.
type Store struct {
	Dynamo DynamoAPI
	Table  TableDefinition
}

// CreateTable creates the movies table and returns its description as
// reported by DynamoDB. The table is usually still CREATING when this returns.
func (s *Store) CreateTable(ctx context.Context) (*types.TableDescription, error) {
	out, err := s.Dynamo.CreateTable(ctx, s.Table.createTableInput())
	if err != nil {
		return nil, fmt.Errorf("create table %q: %w", s.Table.Name, classify(err))
	}

	return out.TableDescription, nil
}

// WaitUntilActive blocks until the movies table exists and is ACTIVE, or
// maxWait elapses.
func (s *Store) WaitUntilActive(ctx context.Context, maxWait time.Duration) error {
	waiter := dynamodb.NewTableExistsWaiter(s.Dynamo, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = time.Second
		o.MaxDelay = 5 * time.Second
	})

	err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.Table.Name),
	}, maxWait)
	if err != nil {
		return fmt.Errorf("wait for table %q: %w", s.Table.Name, err)
	}

	return nil
}

// PutMovie writes m, replacing any existing movie with the same key.
func (s *Store) PutMovie(ctx context.Context, m Movie) error {
	m.Actors = uniqueActors(m.Actors)
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("marshal movie %s: %w", m.Key, err)
	}

	_, err = s.Dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table.Name),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", classify(err))
	}

	return nil
}

// GetMovie returns the movie stored under key, or ErrNotFound.
func (s *Store) GetMovie(ctx context.Context, key Key) (*Movie, error) {
	av, err := key.attributeValues()
	if err != nil {
		return nil, err
	}

	result, err := s.Dynamo.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Table.Name),
		Key:            av,
		ConsistentRead: aws.Bool(true),
	})
	switch {
	case err != nil:
		return nil, fmt.Errorf("get item: %w", classify(err))
	case len(result.Item) == 0:
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}

	var movie Movie
	if err := attributevalue.UnmarshalMap(result.Item, &movie); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	return &movie, nil
}

// UpdateMovie replaces the rating, plot and actors of the movie stored under
// key, leaving every other attribute as it is, and returns the new values of
// the attributes it wrote. If no movie exists under key one is created.
//
// Repeated actors are written once. An empty actor list removes the actors
// attribute, since DynamoDB does not store empty sets.
func (s *Store) UpdateMovie(ctx context.Context, key Key, d Details) (Details, error) {
	av, err := key.attributeValues()
	if err != nil {
		return Details{}, err
	}

	update := expression.
		Set(expression.Name("rating"), expression.Value(d.Rating)).
		Set(expression.Name("plot"), expression.Value(d.Plot))
	if actors := uniqueActors(d.Actors); len(actors) > 0 {
		update = update.Set(expression.Name("actors"), expression.Value(actorSet(actors)))
	} else {
		update = update.Remove(expression.Name("actors"))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return Details{}, fmt.Errorf("build update expression: %w", err)
	}

	out, err := s.Dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.Table.Name),
		Key:                       av,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return Details{}, fmt.Errorf("update item: %w", classify(err))
	}

	var updated Details
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return Details{}, fmt.Errorf("unmarshal updated attributes: %w", err)
	}

	return updated, nil
}

// DeleteUnderratedMovie deletes the movie stored under key if its rating is
// at most threshold and returns the deleted movie. A movie rated above the
// threshold, or a missing movie, yields ErrConditionFailed.
func (s *Store) DeleteUnderratedMovie(ctx context.Context, key Key, threshold float64) (*Movie, error) {
	av, err := key.attributeValues()
	if err != nil {
		return nil, err
	}

	cond := expression.Name("rating").LessThanEqual(expression.Value(threshold))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build condition expression: %w", err)
	}

	out, err := s.Dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.Table.Name),
		Key:                       av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("delete item: %w", classify(err))
	}

	var movie Movie
	if err := attributevalue.UnmarshalMap(out.Attributes, &movie); err != nil {
		return nil, fmt.Errorf("unmarshal deleted movie: %w", err)
	}

	return &movie, nil
}
