package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/ocr"
	"github.com/ufindi/docintel/pkg/queue"
	"github.com/ufindi/docintel/pkg/storage"
	"github.com/ufindi/docintel/pkg/worker"
)

// Config aggregates every component's settings. Values come from the
// YAML file, then .env / environment variables override credentials and
// endpoints so secrets stay out of the file.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Logger  logger.Config  `yaml:"logger"`
	Store   StoreConfig    `yaml:"store"`
	Storage storage.Config `yaml:"storage"`
	Queue   queue.Config   `yaml:"queue"`
	Worker  worker.Config  `yaml:"worker"`
	OCR     ocr.Config     `yaml:"ocr"`

	// RetentionDays is how long document records and bytes are kept
	// before the sweep removes them.
	RetentionDays int `yaml:"retentionDays"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type StoreConfig struct {
	// Path is the bolt file for document records.
	Path string `yaml:"path"`
	// MemoryPath is the bolt file for patterns and corrections.
	MemoryPath string `yaml:"memoryPath"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Logger: logger.Config{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
		Store: StoreConfig{
			Path:       "data/docintel.db",
			MemoryPath: "data/memory.db",
		},
		Storage: storage.Config{
			Type: storage.StorageTypeMinio,
		},
		Queue: queue.Config{
			RedisAddr: "localhost:6379",
		},
		Worker: worker.Config{
			RedisAddr:     "localhost:6379",
			Concurrency:   5,
			RetentionSpec: "0 3 * * *",
		},
		OCR: ocr.Config{
			Provider:  "tesseract",
			Languages: []string{"eng"},
		},
		RetentionDays: 90,
	}
}

// Load reads the config file at path (optional) and applies environment
// overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, falling back to environment variables")
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Queue.RedisAddr = v
		c.Worker.RedisAddr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Queue.RedisDB = db
			c.Worker.RedisDB = db
		}
	}

	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		c.Storage.Type = storage.StorageType(v)
	}
	switch c.Storage.Type {
	case storage.StorageTypeMinio:
		overrideString(&c.Storage.Endpoint, "MINIO_ENDPOINT")
		overrideString(&c.Storage.AccessKey, "MINIO_ACCESS_KEY")
		overrideString(&c.Storage.SecretKey, "MINIO_SECRET_KEY")
		overrideString(&c.Storage.BucketName, "MINIO_BUCKET_NAME")
		overrideString(&c.Storage.Region, "MINIO_REGION")
	case storage.StorageTypeS3:
		overrideString(&c.Storage.Endpoint, "AWS_ENDPOINT")
		overrideString(&c.Storage.AccessKey, "AWS_ACCESS_KEY")
		overrideString(&c.Storage.SecretKey, "AWS_SECRET_KEY")
		overrideString(&c.Storage.BucketName, "AWS_S3_BUCKET_NAME")
		overrideString(&c.Storage.Region, "AWS_REGION")
	}

	overrideString(&c.OCR.Provider, "OCR_PROVIDER")
	overrideString(&c.OCR.AWSRegion, "AWS_REGION")
	overrideString(&c.Store.Path, "STORE_PATH")
	overrideString(&c.Store.MemoryPath, "MEMORY_STORE_PATH")
}

// Retention converts the configured retention into a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
