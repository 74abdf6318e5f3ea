package movies

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key is the composite primary key of a movie.
type Key struct {
	Year  int    `json:"year" dynamodbav:"year"`
	Title string `json:"title" dynamodbav:"title"`
}

// Details are the non-key attributes of a movie.
type Details struct {
	Plot   string   `json:"plot,omitempty" dynamodbav:"plot,omitempty"`
	Rating float64  `json:"rating" dynamodbav:"rating"`
	Actors []string `json:"actors,omitempty" dynamodbav:"actors,stringset,omitempty"`
}

type Movie struct {
	Key
	Details
}

func (k Key) String() string {
	return fmt.Sprintf("%s (%d)", k.Title, k.Year)
}

func (k Key) attributeValues() (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(k)
	if err != nil {
		return nil, fmt.Errorf("marshal key %s: %w", k, err)
	}

	return av, nil
}

// actorSet encodes actors as a DynamoDB string set rather than a list.
type actorSet []string

// uniqueActors drops repeated names, keeping the first occurrence. DynamoDB
// rejects sets with duplicate members.
func uniqueActors(actors []string) []string {
	if len(actors) == 0 {
		return actors
	}

	seen := make(map[string]bool, len(actors))
	out := make([]string, 0, len(actors))
	for _, a := range actors {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func (s actorSet) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberSS{Value: s}, nil
}
