package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/segmentio/ksuid"
	otelapi "go.opentelemetry.io/otel"

	"github.com/dannyrandall/movies-crud/internal/config"
	"github.com/dannyrandall/movies-crud/internal/movies"
	"github.com/dannyrandall/movies-crud/internal/otel"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("unable to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	sessionID := ksuid.New().String()
	log.Printf("Starting session %s using %q as the DynamoDB movies table", sessionID, cfg.Table)

	// Timeout for setup functions
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if cfg.Tracing {
		shutdown, err := otel.SetupTracer(ctx, cfg.ServiceName, sessionID)
		if err != nil {
			return fmt.Errorf("unable to setup otel tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Printf("error flushing traces: %s", err)
			}
		}()
	}

	dynamo, closeDynamo, err := config.NewDynamoClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("unable to create dynamodb client: %w", err)
	}
	defer closeDynamo()

	d := &Driver{
		Movies: &movies.Store{
			Dynamo: dynamo,
			Table:  cfg.TableDefinition(),
		},
		Tracer:       otelapi.Tracer("github.com/dannyrandall/movies-crud/cmd/movies"),
		In:           bufio.NewReader(os.Stdin),
		Out:          os.Stdout,
		Defaults:     cfg.Defaults,
		Timeout:      cfg.Timeout,
		WaitForTable: *cfg.WaitForTable,
		SessionID:    sessionID,
	}

	if err := d.Run(context.Background()); err != nil {
		return fmt.Errorf("movies session %s: %w", sessionID, err)
	}

	log.Printf("Session %s finished", sessionID)
	return nil
}
