package localddb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "Movies"

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Options{Path: InMemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	_, err = store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String(testTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("year"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("title"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("year"), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String("title"), AttributeType: types.ScalarAttributeTypeS},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(10),
			WriteCapacityUnits: aws.Int64(10),
		},
	})
	require.NoError(t, err)

	return store
}

func movieKey(year, title string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"year":  &types.AttributeValueMemberN{Value: year},
		"title": &types.AttributeValueMemberS{Value: title},
	}
}

func movieItem(year, title, rating string) map[string]types.AttributeValue {
	item := movieKey(year, title)
	item["rating"] = &types.AttributeValueMemberN{Value: rating}
	item["plot"] = &types.AttributeValueMemberS{Value: "a plot"}
	return item
}

func putItem(t *testing.T, store *Store, item map[string]types.AttributeValue) {
	t.Helper()
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(testTable),
		Item:      item,
	})
	require.NoError(t, err)
}

func getItem(t *testing.T, store *Store, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	t.Helper()
	out, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(testTable),
		Key:       key,
	})
	require.NoError(t, err)
	return out.Item
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var ae smithy.APIError
	require.True(t, errors.As(err, &ae), "expected API error, got %v", err)
	assert.Equal(t, code, ae.ErrorCode())
}

func TestStore_CreateTable(t *testing.T) {
	t.Run("existing table", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
			TableName: aws.String(testTable),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		})

		var inUse *types.ResourceInUseException
		assert.ErrorAs(t, err, &inUse)
	})

	t.Run("missing throughput", func(t *testing.T) {
		store, err := Open(Options{})
		require.NoError(t, err)
		defer store.Close()

		_, err = store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
			TableName: aws.String("NoThroughput"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("missing attribute definition", func(t *testing.T) {
		store, err := Open(Options{})
		require.NoError(t, err)
		defer store.Close()

		_, err = store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
			TableName: aws.String("NoDefinitions"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		requireAPIError(t, err, "ValidationException")
	})
}

func TestStore_DescribeTable(t *testing.T) {
	store := newTestStore(t)
	putItem(t, store, movieItem("2022", "Black Adam", "7.1"))
	putItem(t, store, movieItem("2021", "Dune", "8"))

	out, err := store.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: aws.String(testTable),
	})
	require.NoError(t, err)

	assert.Equal(t, types.TableStatusActive, out.Table.TableStatus)
	assert.Equal(t, int64(2), aws.ToInt64(out.Table.ItemCount))
	assert.Equal(t, int64(10), aws.ToInt64(out.Table.ProvisionedThroughput.ReadCapacityUnits))
	require.Len(t, out.Table.KeySchema, 2)
	assert.Equal(t, "year", aws.ToString(out.Table.KeySchema[0].AttributeName))
	assert.Equal(t, types.KeyTypeRange, out.Table.KeySchema[1].KeyType)

	_, err = store.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: aws.String("Missing"),
	})
	var notFound *types.ResourceNotFoundException
	assert.ErrorAs(t, err, &notFound)
}

func TestStore_PutGetItem(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		store := newTestStore(t)
		item := movieItem("2022", "Black Adam", "7.1")
		item["actors"] = &types.AttributeValueMemberSS{Value: []string{"Dwayne Johnson", "Sarah Shahi"}}
		item["meta"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"seen":  &types.AttributeValueMemberBOOL{Value: true},
			"tags":  &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "dc"}}},
			"extra": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
		}}

		putItem(t, store, item)
		assert.Equal(t, item, getItem(t, store, movieKey("2022", "Black Adam")))
	})

	t.Run("numeric keys are canonical", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		assert.NotNil(t, getItem(t, store, movieKey("2022.0", "Black Adam")))
	})

	t.Run("overwrite", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))
		putItem(t, store, movieItem("2022", "Black Adam", "6.5"))

		got := getItem(t, store, movieKey("2022", "Black Adam"))
		assert.Equal(t, &types.AttributeValueMemberN{Value: "6.5"}, got["rating"])
	})

	t.Run("missing item", func(t *testing.T) {
		store := newTestStore(t)
		assert.Nil(t, getItem(t, store, movieKey("1999", "Nothing")))
	})

	t.Run("missing key attribute", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
			TableName: aws.String(testTable),
			Item: map[string]types.AttributeValue{
				"title": &types.AttributeValueMemberS{Value: "Black Adam"},
			},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("wrong key type", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
			TableName: aws.String(testTable),
			Key: map[string]types.AttributeValue{
				"year":  &types.AttributeValueMemberS{Value: "2022"},
				"title": &types.AttributeValueMemberS{Value: "Black Adam"},
			},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("missing table", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
			TableName: aws.String("Missing"),
			Key:       movieKey("2022", "Black Adam"),
		})
		var notFound *types.ResourceNotFoundException
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("condition", func(t *testing.T) {
		store := newTestStore(t)
		input := &dynamodb.PutItemInput{
			TableName:                aws.String(testTable),
			Item:                     movieItem("2022", "Black Adam", "7.1"),
			ConditionExpression:      aws.String("attribute_not_exists(#y)"),
			ExpressionAttributeNames: map[string]string{"#y": "year"},
		}

		_, err := store.PutItem(context.Background(), input)
		require.NoError(t, err)

		_, err = store.PutItem(context.Background(), input)
		var condErr *types.ConditionalCheckFailedException
		assert.ErrorAs(t, err, &condErr)
	})
}

func TestStore_UpdateItem(t *testing.T) {
	update := func(store *Store, key map[string]types.AttributeValue, expr string, returnValues types.ReturnValue) (*dynamodb.UpdateItemOutput, error) {
		// Only pass the placeholders expr refers to.
		names := map[string]string{}
		for k, v := range map[string]string{"#0": "rating", "#1": "plot"} {
			if strings.Contains(expr, k) {
				names[k] = v
			}
		}
		values := map[string]types.AttributeValue{}
		for k, v := range map[string]types.AttributeValue{
			":0": &types.AttributeValueMemberN{Value: "9"},
			":1": &types.AttributeValueMemberS{Value: "new plot"},
		} {
			if strings.Contains(expr, k) {
				values[k] = v
			}
		}

		return store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName:                 aws.String(testTable),
			Key:                       key,
			UpdateExpression:          aws.String(expr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ReturnValues:              returnValues,
		})
	}

	t.Run("updated new", func(t *testing.T) {
		store := newTestStore(t)
		item := movieItem("2022", "Black Adam", "7.1")
		item["director"] = &types.AttributeValueMemberS{Value: "Jaume Collet-Serra"}
		putItem(t, store, item)

		out, err := update(store, movieKey("2022", "Black Adam"), "SET #0 = :0, #1 = :1", types.ReturnValueUpdatedNew)
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{
			"rating": &types.AttributeValueMemberN{Value: "9"},
			"plot":   &types.AttributeValueMemberS{Value: "new plot"},
		}, out.Attributes)

		got := getItem(t, store, movieKey("2022", "Black Adam"))
		assert.Equal(t, item["director"], got["director"])
		assert.Equal(t, item["year"], got["year"])
		assert.Equal(t, item["title"], got["title"])
	})

	t.Run("updated old", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		out, err := update(store, movieKey("2022", "Black Adam"), "SET #0 = :0", types.ReturnValueUpdatedOld)
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{
			"rating": &types.AttributeValueMemberN{Value: "7.1"},
		}, out.Attributes)
	})

	t.Run("remove", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		out, err := update(store, movieKey("2022", "Black Adam"), "REMOVE #1\nSET #0 = :0", types.ReturnValueAllNew)
		require.NoError(t, err)
		assert.NotContains(t, out.Attributes, "plot")
		assert.Equal(t, &types.AttributeValueMemberN{Value: "9"}, out.Attributes["rating"])
	})

	t.Run("upsert", func(t *testing.T) {
		store := newTestStore(t)

		_, err := update(store, movieKey("2023", "New"), "SET #0 = :0", types.ReturnValueNone)
		require.NoError(t, err)

		got := getItem(t, store, movieKey("2023", "New"))
		assert.Equal(t, map[string]types.AttributeValue{
			"year":   &types.AttributeValueMemberN{Value: "2023"},
			"title":  &types.AttributeValueMemberS{Value: "New"},
			"rating": &types.AttributeValueMemberN{Value: "9"},
		}, got)
	})

	t.Run("key attribute", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName:        aws.String(testTable),
			Key:              movieKey("2022", "Black Adam"),
			UpdateExpression: aws.String("SET title = :t"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": &types.AttributeValueMemberS{Value: "Other"},
			},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("undefined value", func(t *testing.T) {
		store := newTestStore(t)
		_, err := update(store, movieKey("2022", "Black Adam"), "SET #0 = :missing", types.ReturnValueNone)
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("unsupported clause", func(t *testing.T) {
		store := newTestStore(t)
		_, err := update(store, movieKey("2022", "Black Adam"), "ADD #0 :0", types.ReturnValueNone)
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("invalid return values leave the item untouched", func(t *testing.T) {
		store := newTestStore(t)
		item := movieItem("2022", "Black Adam", "7.1")
		putItem(t, store, item)

		_, err := update(store, movieKey("2022", "Black Adam"), "SET #0 = :0", types.ReturnValue("BOGUS"))
		requireAPIError(t, err, "ValidationException")
		assert.Equal(t, item, getItem(t, store, movieKey("2022", "Black Adam")))
	})

	t.Run("unused attribute name", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		_, err := store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName:                aws.String(testTable),
			Key:                      movieKey("2022", "Black Adam"),
			UpdateExpression:         aws.String("SET rating = :r"),
			ExpressionAttributeNames: map[string]string{"#p": "plot"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":r": &types.AttributeValueMemberN{Value: "9"},
			},
		})
		requireAPIError(t, err, "ValidationException")
		assert.ErrorContains(t, err, "{#p}")
		assert.Equal(t, &types.AttributeValueMemberN{Value: "7.1"}, getItem(t, store, movieKey("2022", "Black Adam"))["rating"])
	})

	t.Run("duplicate set members", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		_, err := store.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName:        aws.String(testTable),
			Key:              movieKey("2022", "Black Adam"),
			UpdateExpression: aws.String("SET actors = :a"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":a": &types.AttributeValueMemberSS{Value: []string{"Zendaya", "Zendaya"}},
			},
		})
		requireAPIError(t, err, "ValidationException")
		assert.NotContains(t, getItem(t, store, movieKey("2022", "Black Adam")), "actors")
	})
}

func TestStore_DuplicateSetMembers(t *testing.T) {
	tests := map[string]types.AttributeValue{
		"string set": &types.AttributeValueMemberSS{Value: []string{"A", "B", "A"}},
		"number set": &types.AttributeValueMemberNS{Value: []string{"1", "2", "1.0"}},
		"binary set": &types.AttributeValueMemberBS{Value: [][]byte{{1}, {2}, {1}}},
	}

	for name, set := range tests {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			item := movieItem("2022", "Black Adam", "7.1")
			item["tags"] = set

			_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
				TableName: aws.String(testTable),
				Item:      item,
			})
			requireAPIError(t, err, "ValidationException")
			assert.ErrorContains(t, err, "Input collection contains duplicates")
			assert.Nil(t, getItem(t, store, movieKey("2022", "Black Adam")))
		})
	}
}

func TestStore_DeleteItem(t *testing.T) {
	deleteIfRatingAtMost := func(store *Store, key map[string]types.AttributeValue, threshold string) (*dynamodb.DeleteItemOutput, error) {
		return store.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
			TableName:                aws.String(testTable),
			Key:                      key,
			ConditionExpression:      aws.String("#0 <= :0"),
			ExpressionAttributeNames: map[string]string{"#0": "rating"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":0": &types.AttributeValueMemberN{Value: threshold},
			},
			ReturnValues: types.ReturnValueAllOld,
		})
	}

	t.Run("condition passes", func(t *testing.T) {
		store := newTestStore(t)
		item := movieItem("2022", "Black Adam", "7.1")
		putItem(t, store, item)

		out, err := deleteIfRatingAtMost(store, movieKey("2022", "Black Adam"), "7.1")
		require.NoError(t, err)
		assert.Equal(t, item, out.Attributes)
		assert.Nil(t, getItem(t, store, movieKey("2022", "Black Adam")))
	})

	t.Run("condition fails", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		_, err := deleteIfRatingAtMost(store, movieKey("2022", "Black Adam"), "6.0")
		var condErr *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &condErr)
		assert.NotNil(t, getItem(t, store, movieKey("2022", "Black Adam")))
	})

	t.Run("missing item fails condition", func(t *testing.T) {
		store := newTestStore(t)

		_, err := deleteIfRatingAtMost(store, movieKey("2022", "Black Adam"), "10")
		var condErr *types.ConditionalCheckFailedException
		assert.ErrorAs(t, err, &condErr)
	})

	t.Run("unused attribute value", func(t *testing.T) {
		store := newTestStore(t)
		putItem(t, store, movieItem("2022", "Black Adam", "7.1"))

		_, err := store.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
			TableName:                aws.String(testTable),
			Key:                      movieKey("2022", "Black Adam"),
			ConditionExpression:      aws.String("#0 <= :0"),
			ExpressionAttributeNames: map[string]string{"#0": "rating"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":0":      &types.AttributeValueMemberN{Value: "10"},
				":unused": &types.AttributeValueMemberN{Value: "1"},
			},
		})
		requireAPIError(t, err, "ValidationException")
		assert.ErrorContains(t, err, "{:unused}")
		assert.NotNil(t, getItem(t, store, movieKey("2022", "Black Adam")))
	})

	t.Run("unconditional missing item", func(t *testing.T) {
		store := newTestStore(t)

		out, err := store.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
			TableName: aws.String(testTable),
			Key:       movieKey("2022", "Black Adam"),
		})
		require.NoError(t, err)
		assert.Nil(t, out.Attributes)
	})
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Options{Path: dir})
	require.NoError(t, err)
	_, err = store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String(testTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("year"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("title"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("year"), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String("title"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	require.NoError(t, err)
	putItem(t, store, movieItem("2022", "Black Adam", "7.1"))
	require.NoError(t, store.Close())

	reopened, err := Open(Options{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	assert.NotNil(t, getItem(t, reopened, movieKey("2022", "Black Adam")))
}
