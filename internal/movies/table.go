package movies

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	DefaultTableName = "Movies"

	DefaultReadCapacity  = 10
	DefaultWriteCapacity = 10
)

// TableDefinition describes the movies table: a numeric partition key "year",
// a string sort key "title" and provisioned throughput.
type TableDefinition struct {
	Name          string
	ReadCapacity  int64
	WriteCapacity int64
}

func DefaultTable() TableDefinition {
	return TableDefinition{
		Name:          DefaultTableName,
		ReadCapacity:  DefaultReadCapacity,
		WriteCapacity: DefaultWriteCapacity,
	}
}

func (t TableDefinition) createTableInput() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(t.Name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("year"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("title"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("year"), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String("title"), AttributeType: types.ScalarAttributeTypeS},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(t.ReadCapacity),
			WriteCapacityUnits: aws.Int64(t.WriteCapacity),
		},
	}
}
