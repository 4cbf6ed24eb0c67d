package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/record"
	recordBadger "github.com/marmos91/dittoshard/pkg/store/record/badger"
	recordMemory "github.com/marmos91/dittoshard/pkg/store/record/memory"
	recordS3 "github.com/marmos91/dittoshard/pkg/store/record/s3"
	"github.com/marmos91/dittoshard/pkg/store/state"
	stateBadger "github.com/marmos91/dittoshard/pkg/store/state/badger"
	stateMemory "github.com/marmos91/dittoshard/pkg/store/state/memory"
	"github.com/mitchellh/mapstructure"
)

// decodeOptions decodes store options into out.
//
// DSN query parameters arrive as strings, so weak typing is enabled
// ("true" -> bool, "64" -> int) along with duration parsing.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateMapper creates the key-to-shard mapper selected by the configuration.
func CreateMapper(cfg *ShardingConfig) (shard.Mapper, error) {
	return shard.NewMapper(cfg.Policy, shard.MapperOptions{VirtualNodes: cfg.VirtualNodes})
}

// CreateRecordStore creates the record store described by a shard DSN.
//
// Supported backends:
//   - "memory": Uses pkg/store/record/memory (ephemeral)
//   - "badger": Uses pkg/store/record/badger (BadgerDB, persistent)
//   - "s3": Uses pkg/store/record/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - dsn: Shard connection descriptor
//
// Returns:
//   - record.Store: Initialized record store
//   - error: DSN, configuration or initialization error
func CreateRecordStore(ctx context.Context, dsn string) (record.Store, error) {
	parsed, err := record.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	switch parsed.Type {
	case record.TypeMemory:
		return createMemoryRecordStore(ctx, parsed.Options)
	case record.TypeBadger:
		return createBadgerRecordStore(ctx, parsed.Options)
	case record.TypeS3:
		return createS3RecordStore(ctx, parsed.Options)
	default:
		return nil, fmt.Errorf("unknown record store type: %q", parsed.Type)
	}
}

func createMemoryRecordStore(ctx context.Context, options map[string]any) (record.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type MemoryRecordStoreOptions struct {
		Name string `mapstructure:"name"`
	}

	var opts MemoryRecordStoreOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode memory record store options: %w", err)
	}

	return recordMemory.New(opts.Name), nil
}

func createBadgerRecordStore(ctx context.Context, options map[string]any) (record.Store, error) {
	var storeCfg recordBadger.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger record store options: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger record store: db_path is required")
	}

	store, err := recordBadger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger record store: %w", err)
	}
	return store, nil
}

// s3StoreOptions are the S3 record store settings carried by an s3:// DSN.
type s3StoreOptions struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

func createS3RecordStore(ctx context.Context, options map[string]any) (record.Store, error) {
	var storeCfg s3StoreOptions
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 record store options: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 record store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 record store: region is required")
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	store, err := recordS3.New(ctx, recordS3.Config{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 record store: %w", err)
	}

	logger.Info("S3 record store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// newS3Client builds an S3 client from DSN options.
func newS3Client(ctx context.Context, storeCfg s3StoreOptions) (*s3.Client, error) {
	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Set custom endpoint if provided (for MinIO, Localstack, etc.)
	if storeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Set credentials if provided, otherwise use default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack
		if storeCfg.ForcePathStyle || storeCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	}), nil
}

// CreateStateStore creates the state store selected by the configuration.
//
// Supported types:
//   - "memory": Uses pkg/store/state/memory (ephemeral)
//   - "badger": Uses pkg/store/state/badger (BadgerDB, persistent)
func CreateStateStore(ctx context.Context, cfg *StateConfig) (state.Store, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return stateMemory.New(), nil
	case "badger":
		var storeCfg stateBadger.Config
		if err := decodeOptions(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger state store options: %w", err)
		}
		store, err := stateBadger.New(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger state store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state store type: %q (supported: memory, badger)", cfg.Type)
	}
}
