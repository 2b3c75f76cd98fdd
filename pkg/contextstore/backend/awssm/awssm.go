// Package awssm implements an AWS Secrets Manager context backend.
//
// Each record path maps to one secret, so deployment context and sealed
// material live behind Secrets Manager's own encryption and IAM policies
// rather than in a bucket.
package awssm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"

	"github.com/oci-lxc/deployer/pkg/contextstore/backend"
)

func init() {
	backend.Register("awssm", NewBackend)
}

// Backend stores context records as individual secrets.
type Backend struct {
	client *secretsmanager.Client
	prefix string
}

// NewBackend creates a Secrets Manager backend. "region", "prefix",
// "endpoint" and explicit "access_key"/"secret_key" options are optional.
func NewBackend(options map[string]string) (backend.Backend, error) {
	region := options["region"]
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if accessKey := options["access_key"]; accessKey != "" {
		secretKey := options["secret_key"]
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint := options["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	prefix := options["prefix"]
	if prefix == "" {
		prefix = "lxc-deployer"
	}

	return &Backend{client: client, prefix: prefix}, nil
}

func (b *Backend) Type() string {
	return "awssm"
}

func (b *Backend) Read(ctx context.Context, recordPath string) (io.ReadCloser, error) {
	name := b.secretName(recordPath)

	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, backend.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(*out.SecretString)), nil
}

func (b *Backend) Write(ctx context.Context, recordPath string, data io.Reader) error {
	name := b.secretName(recordPath)

	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	_, err = b.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(content)),
	})
	if err != nil {
		var exists *types.ResourceExistsException
		if !errors.As(err, &exists) {
			return fmt.Errorf("failed to create secret %s: %w", name, err)
		}
		_, err = b.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(name),
			SecretString: aws.String(string(content)),
		})
		if err != nil {
			return fmt.Errorf("failed to update secret %s: %w", name, err)
		}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, recordPath string) error {
	name := b.secretName(recordPath)

	_, err := b.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.secretName(prefix)

	var paths []string
	paginator := secretsmanager.NewListSecretsPaginator(b.client, &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{fullPrefix},
		}},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list secrets: %w", err)
		}
		for _, secret := range page.SecretList {
			if secret.Name == nil || secret.DeletedDate != nil {
				continue
			}
			paths = append(paths, strings.TrimPrefix(*secret.Name, b.prefix+"/"))
		}
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, recordPath string) (bool, error) {
	name := b.secretName(recordPath)

	_, err := b.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// Lock leans on CreateSecret's uniqueness: creating the lock secret fails if
// another holder already created it.
func (b *Backend) Lock(ctx context.Context, recordPath string, info backend.LockInfo) (backend.Lock, error) {
	lockName := b.secretName(recordPath + ".lock")

	info.ID = uuid.New().String()
	info.Path = recordPath
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	_, err = b.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(lockName),
		SecretString: aws.String(string(lockData)),
	})
	if err != nil {
		var exists *types.ResourceExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existingInfo, readErr := b.readLock(ctx, lockName)
		if readErr == nil && time.Since(existingInfo.Created) < backend.StaleLockAge {
			return nil, &backend.LockError{Info: existingInfo, Err: backend.ErrLocked}
		}

		// Stale or unreadable lock: take it over.
		_, err = b.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(lockName),
			SecretString: aws.String(string(lockData)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to steal stale lock: %w", err)
		}
	}

	return &smLock{backend: b, name: lockName, info: info}, nil
}

func (b *Backend) readLock(ctx context.Context, name string) (backend.LockInfo, error) {
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil || out.SecretString == nil {
		return backend.LockInfo{}, fmt.Errorf("failed to read lock: %w", err)
	}

	var info backend.LockInfo
	if err := json.Unmarshal([]byte(*out.SecretString), &info); err != nil {
		return backend.LockInfo{}, err
	}
	return info, nil
}

func (b *Backend) secretName(recordPath string) string {
	return path.Join(b.prefix, recordPath)
}

func isNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}

type smLock struct {
	backend *Backend
	name    string
	info    backend.LockInfo
}

func (l *smLock) ID() string {
	return l.info.ID
}

func (l *smLock) Unlock(ctx context.Context) error {
	_, err := l.backend.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(l.name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *smLock) Info() backend.LockInfo {
	return l.info
}

var _ backend.Backend = (*Backend)(nil)
