package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ufindi/docintel/config"
	"github.com/ufindi/docintel/internal/classify"
	"github.com/ufindi/docintel/internal/extract"
	"github.com/ufindi/docintel/internal/layout"
	"github.com/ufindi/docintel/internal/memory"
	"github.com/ufindi/docintel/internal/pipeline"
	"github.com/ufindi/docintel/internal/service/document"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/internal/validate"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/ocr"
	"github.com/ufindi/docintel/pkg/queue"
	"github.com/ufindi/docintel/pkg/storage"
	"github.com/ufindi/docintel/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logger.Level),
		logger.WithEncoding(cfg.Logger.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		log.Error("Failed to open record store", logger.Error(err))
		os.Exit(1)
	}
	defer records.Close()

	memStore, err := memory.NewBoltStore(cfg.Store.MemoryPath)
	if err != nil {
		log.Error("Failed to open memory store", logger.Error(err))
		os.Exit(1)
	}
	defer memStore.Close()

	objects, err := storage.NewStorage(cfg.Storage, log)
	if err != nil {
		log.Error("Failed to init object storage", logger.Error(err))
		os.Exit(1)
	}

	q, err := queue.NewAsynqQueue(cfg.Queue)
	if err != nil {
		log.Error("Failed to init task queue", logger.Error(err))
		os.Exit(1)
	}
	defer q.Close()

	engine, err := ocr.NewEngine(ctx, cfg.OCR, log)
	if err != nil {
		log.Error("Failed to init OCR engine", logger.Error(err))
		os.Exit(1)
	}

	mem := memory.New(memStore, log)

	p := pipeline.New(pipeline.Deps{
		Store:      records,
		Objects:    objects,
		OCR:        engine,
		Classifier: classify.NewClassifier(log),
		Layout:     layout.NewAnalyzer(log, engine),
		Extractor:  extract.NewExtractor(log),
		Validator:  validate.NewValidator(log),
		Memory:     mem,
		Logger:     log,
	})

	docService := document.NewService(records, objects, q, mem, log,
		document.WithRetention(cfg.Retention()),
	)

	pipelineWorker, err := worker.NewPipelineWorker(cfg.Worker, p, docService, q, log)
	if err != nil {
		log.Error("Failed to create pipeline worker", logger.Error(err))
		os.Exit(1)
	}

	if err := pipelineWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	pipelineWorker.Stop()
	log.Info("Worker stopped")
}
