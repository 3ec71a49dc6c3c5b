// Package storage stores uploaded document bytes in an object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/storage/minio"
	"github.com/ufindi/docintel/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Config selects a backend and carries its connection settings.
type Config struct {
	Type       StorageType `yaml:"type"`
	Endpoint   string      `yaml:"endpoint"`
	AccessKey  string      `yaml:"accessKey"`
	SecretKey  string      `yaml:"secretKey"`
	BucketName string      `yaml:"bucket"`
	Region     string      `yaml:"region"`
	UseSSL     bool        `yaml:"useSSL"`
}

// Storage is the object-store interface used by intake and retention.
type Storage interface {
	// Store writes a file and returns its storage key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens a stored file for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a stored file.
	Delete(ctx context.Context, key string) error
	// CleanupBefore deletes objects last modified before the threshold.
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage is the backend factory.
func NewStorage(cfg Config, log logger.Logger) (Storage, error) {
	switch cfg.Type {
	case StorageTypeS3:
		return s3.New(s3.Config{
			Endpoint:   cfg.Endpoint,
			AccessKey:  cfg.AccessKey,
			SecretKey:  cfg.SecretKey,
			BucketName: cfg.BucketName,
			Region:     cfg.Region,
		}, log)
	case StorageTypeMinio:
		return minio.New(minio.Config{
			Endpoint:   cfg.Endpoint,
			AccessKey:  cfg.AccessKey,
			SecretKey:  cfg.SecretKey,
			BucketName: cfg.BucketName,
			Region:     cfg.Region,
			UseSSL:     cfg.UseSSL,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
