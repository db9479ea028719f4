// Package s3 implements the S3-compatible archive backend. It supports AWS S3, MinIO and
// other S3-compatible services via a configurable endpoint. Authentication methods: the
// default AWS credential chain (recommended for EC2/EKS with IAM roles), static key/secret,
// OIDC web identity, and AssumeRole for cross-account archive buckets.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/storage"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.ArchiveConfig) (storage.Storage, error) {
		return New(&cfg.S3)
	})
}

// S3Storage implements storage.Storage for S3-compatible object stores
type S3Storage struct {
	client *s3.Client
	bucket string
}

// resolveAuthMethod applies the default: static when keys are present, the
// AWS credential chain otherwise.
func resolveAuthMethod(cfg *appconfig.S3StorageConfig) string {
	if cfg.AuthMethod != "" {
		return cfg.AuthMethod
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return "static"
	}
	return "default"
}

// New creates a new S3-compatible storage backend
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain (env vars, shared config, IAM role, IMDS)
//   - "static": explicit access key and secret key
//   - "oidc": web identity token (EKS, CI runners)
//   - "assume_role": assumes an IAM role, optionally with an external ID
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	authMethod := resolveAuthMethod(cfg)
	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "oidc":
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for OIDC auth")
		}
		if cfg.WebIdentityTokenFile == "" {
			return nil, fmt.Errorf("web_identity_token_file is required for OIDC auth")
		}
	case "assume_role":
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for assume_role auth")
		}
	case "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', 'oidc', or 'assume_role')", authMethod)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Role-based providers wrap the base config's STS client
	switch authMethod {
	case "oidc":
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(awsCfg),
			cfg.RoleARN,
			stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if cfg.RoleSessionName != "" {
					o.RoleSessionName = cfg.RoleSessionName
				}
			},
		)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)

	case "assume_role":
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				if cfg.RoleSessionName != "" {
					o.RoleSessionName = cfg.RoleSessionName
				}
				if cfg.ExternalID != "" {
					o.ExternalID = aws.String(cfg.ExternalID)
				}
			},
		)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services generally need path-style addressing
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// isNotFound matches both the typed NotFound/NoSuchKey errors and a bare 404.
func isNotFound(err error) bool {
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// Put stores an object, recording its SHA256 in object metadata
func (s *S3Storage) Put(ctx context.Context, path string, data []byte, contentType string) (*storage.PutResult, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	checksum := storage.Checksum(data)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{storage.ChecksumMetadataKey: checksum},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &storage.PutResult{Path: key, Size: int64(len(data)), Checksum: checksum}, nil
}

// Get retrieves an object from S3
func (s *S3Storage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return result.Body, nil
}

// Exists checks if an object exists at the specified path
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Stat returns object metadata. Objects written without a checksum
// in metadata are downloaded to compute one.
func (s *S3Storage) Stat(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	key, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	checksum := result.Metadata[storage.ChecksumMetadataKey]
	if checksum == "" {
		body, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if checksum, err = storage.ChecksumReader(body); err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
	}

	info := &storage.ObjectInfo{
		Path:     key,
		Size:     aws.ToInt64(result.ContentLength),
		Checksum: checksum,
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}
