package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/ufindi/docintel/api/handlers"
	"github.com/ufindi/docintel/api/routes"
	"github.com/ufindi/docintel/config"
	"github.com/ufindi/docintel/internal/memory"
	"github.com/ufindi/docintel/internal/service/document"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/queue"
	"github.com/ufindi/docintel/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logger.Level),
		logger.WithEncoding(cfg.Logger.Encoding),
		logger.WithOutputPaths(cfg.Logger.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// init stores
	records, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		log.Fatal("Failed to open record store:", logger.Error(err))
	}
	defer records.Close()

	memStore, err := memory.NewBoltStore(cfg.Store.MemoryPath)
	if err != nil {
		log.Fatal("Failed to open memory store:", logger.Error(err))
	}
	defer memStore.Close()

	objects, err := storage.NewStorage(cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to init object storage:", logger.Error(err))
	}

	q, err := queue.NewAsynqQueue(cfg.Queue)
	if err != nil {
		log.Fatal("Failed to init task queue:", logger.Error(err))
	}
	defer q.Close()

	// init document service
	mem := memory.New(memStore, log)
	docService := document.NewService(records, objects, q, mem, log,
		document.WithRetention(cfg.Retention()),
	)

	// init handlers
	h := handlers.NewHandlers(docService, q, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error:", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown:", logger.Error(err))
	}
}
