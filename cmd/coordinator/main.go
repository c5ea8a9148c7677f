// cmd/coordinator is the main entrypoint for the file-sync coordinator.
//
// Configuration is entirely via flags so a single binary can run
// standalone or under a process supervisor.
//
// Example:
//
//	./coordinator --addr :8080 --data-dir /var/filesync/coordinator
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"filesync-coordinator/internal/api"
	"filesync-coordinator/internal/coordinator"
	"filesync-coordinator/internal/logging"
	"filesync-coordinator/internal/storage"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/filesync-coordinator", "Directory for WAL and snapshots")
	chunkSize := flag.Int("chunk-size", 4096, "Delta engine chunk size in bytes")
	replicationDelay := flag.Duration("replication-delay", 200*time.Millisecond, "Delay between replication progress steps (0 disables the delay)")
	snapshotInterval := flag.Duration("snapshot-interval", 60*time.Second, "Background snapshot period")
	heartbeatInterval := flag.Duration("heartbeat-interval", coordinator.HeartbeatInterval, "Node liveness check period")
	debug := flag.Bool("debug", false, "Enable development logging (console encoder, debug level)")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	store, err := storage.New(*dataDir)
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	coord := coordinator.New(store, log, coordinator.Config{
		ChunkSize:        *chunkSize,
		ReplicationDelay: *replicationDelay,
	})

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log), api.Deadline(api.DefaultRequestTimeout))

	handler := api.NewHandler(coord)
	handler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		stats := coord.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"nodes":  stats.Nodes,
			"files":  stats.Files,
		})
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("coordinator listening", zap.String("addr", *addr), zap.String("data_dir", *dataDir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(*snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := coord.Snapshot(); err != nil {
					log.Warn("snapshot failed", zap.Error(err))
				} else {
					log.Debug("snapshot saved")
				}
			case <-stop:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(*heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				coord.CheckHeartbeats(*heartbeatInterval)
			case <-stop:
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	close(stop)

	log.Info("shutting down coordinator")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := coord.Snapshot(); err != nil {
		log.Warn("final snapshot failed", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
}
