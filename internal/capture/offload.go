// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configura o offload de capturas rotacionadas.
type S3Config struct {
	Bucket string
	Region string
	Prefix string

	// Credenciais estáticas opcionais; vazias, vale a cadeia default do
	// SDK (env, arquivos, IMDS).
	AccessKeyID     string
	SecretAccessKey string
}

// S3Offloader sobe arquivos de captura para um bucket S3 e remove a cópia
// local após o upload.
type S3Offloader struct {
	client *s3.Client
	cfg    S3Config
	logger *slog.Logger
}

// NewS3Offloader resolve as credenciais e cria o client S3.
func NewS3Offloader(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Offloader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("capture: s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &S3Offloader{
		client: s3.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger.With("component", "capture_offload"),
	}, nil
}

// Offload sobe o arquivo para s3://bucket/prefix/<basename> e apaga a
// cópia local em caso de sucesso.
func (o *S3Offloader) Offload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening capture for offload: %w", err)
	}
	defer f.Close()

	key := path.Join(o.cfg.Prefix, filepath.Base(localPath))
	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading capture to s3: %w", err)
	}

	f.Close()
	if err := os.Remove(localPath); err != nil {
		o.logger.Warn("uploaded capture left on disk", "file", localPath, "error", err)
	}

	o.logger.Info("capture offloaded",
		"bucket", o.cfg.Bucket, "key", key)
	return nil
}
