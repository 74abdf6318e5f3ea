package config

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dannyrandall/movies-crud/internal/localddb"
	"github.com/dannyrandall/movies-crud/internal/movies"
)

// NewDynamoClient returns the client for the configured backend: the embedded
// store when LocalPath is set, DynamoDB otherwise. The returned close function
// releases the backend and is always non-nil on success.
func NewDynamoClient(ctx context.Context, c Config) (movies.DynamoAPI, func() error, error) {
	if c.LocalPath != "" {
		store, err := localddb.Open(localddb.Options{Path: c.LocalPath})
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		log.Printf("Using the local table store at %q", c.LocalPath)
		return store, store.Close, nil
	}

	awsCfg, err := c.loadAWSConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	})

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = "default"
	}
	log.Printf("Using DynamoDB in region %q, endpoint %s", awsCfg.Region, endpoint)

	return client, func() error { return nil }, nil
}

func (c Config) loadAWSConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.Endpoint != "" && !hasEnvCredentials() && c.Profile == "" {
		// DynamoDB Local accepts any signature but still wants one.
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	if c.Tracing {
		opts = append(opts, awsconfig.WithHTTPClient(otelhttp.DefaultClient))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if c.Tracing {
		otelaws.AppendMiddlewares(&cfg.APIOptions)
	}

	return cfg, nil
}

func hasEnvCredentials() bool {
	return os.Getenv("AWS_ACCESS_KEY_ID") != ""
}
