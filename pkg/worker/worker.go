// Package worker runs the background side of the pipeline: queued
// processing runs, correction propagation, retraining signals and the
// periodic retention sweep.
package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/ufindi/docintel/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr   string         `yaml:"redisAddr"`
	RedisDB     int            `yaml:"redisDB"`
	Concurrency int            `yaml:"concurrency"`
	Queues      map[string]int `yaml:"queues"`

	// RetentionSpec is the cron spec for the retention sweep. Empty
	// disables scheduling.
	RetentionSpec string `yaml:"retentionSpec"`
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
}

func (w *BaseWorker) Stop() error {
	close(w.stopChan)
	w.server.Stop()
	w.server.Shutdown()
	return nil
}
