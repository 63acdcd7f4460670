// Command backref-stream is an AWS Lambda function subscribed to the DynamoDB
// streams of the configured tables. It releases the back-references of
// documents deleted outside the model, such as by TTL or a direct DeleteItem.
//
// Environment:
//
//	BACKREF_CONFIG     path of the YAML model configuration (required)
//	BACKREF_LOG_LEVEL  debug, info, warn or error (default info)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/backref/internal/config"
	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/dynamo"
	"github.com/jacentio/backref/stream"
)

func main() {
	logger := newLogger(os.Getenv("BACKREF_LOG_LEVEL"))
	slog.SetDefault(logger)

	h, err := setup(context.Background(), logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.HandleRemovals)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func setup(ctx context.Context, logger *slog.Logger) (*stream.Handler, error) {
	path := os.Getenv(config.EnvPath)
	if path == "" {
		return nil, fmt.Errorf("%s is not set", config.EnvPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg)

	bindings, err := cfg.Build(model.NewRegistry(), func(m config.ModelConfig) store.Collection {
		return dynamo.New(client, m.Name, cfg.Dynamo(m))
	}, logger)
	if err != nil {
		return nil, err
	}

	h := stream.NewHandler(logger)
	for _, b := range bindings {
		if b.Relations == nil {
			continue
		}
		h.Register(b.Table, b.Relations)
		logger.Info("releasing removals", "table", b.Table, "model", b.Model.Name())
	}
	return h, nil
}
