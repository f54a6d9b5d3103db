// cmd/workerd is a worker process: the replica store, the write
// coordinator, the heartbeat loop, and the worker's Gin HTTP API.
//
// Configuration follows original_source/worker.py's environment
// variables (CONTROLLER, ADDRESS, ID, WRITE_QUORUM, REQUEST_TIMEOUT,
// DATA_DIR), with flags layered on top for operational overrides.
//
// Example:
//
//	CONTROLLER=http://localhost:8000 ADDRESS=http://localhost:9001 \
//	WRITE_QUORUM=2 ./workerd -addr :9001
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kvshard/internal/coordinator"
	"kvshard/internal/heartbeat"
	"kvshard/internal/store"
	"kvshard/internal/workerapi"
)

func main() {
	controllerAddr := getenv("CONTROLLER", "http://localhost:8000")
	selfAddress := getenv("ADDRESS", "")
	id := getenv("ID", "")
	writeQuorum := getenvInt("WRITE_QUORUM", 2)
	requestTimeout := getenvDuration("REQUEST_TIMEOUT", 2*time.Second)
	dataDir := os.Getenv("DATA_DIR")

	addr := flag.String("addr", ":9001", "listen address (host:port)")
	flag.StringVar(&controllerAddr, "controller", controllerAddr, "controller base URL")
	flag.StringVar(&selfAddress, "address", selfAddress, "this worker's externally-reachable base URL")
	flag.StringVar(&id, "id", id, "this worker's id (default: random uuid)")
	flag.IntVar(&writeQuorum, "write-quorum", writeQuorum, "write quorum W")
	flag.DurationVar(&requestTimeout, "request-timeout", requestTimeout, "per-peer HTTP timeout")
	flag.StringVar(&dataDir, "data-dir", dataDir, "replica file storage directory")
	flag.Parse()

	if id == "" {
		id = uuid.NewString()
	}
	if selfAddress == "" {
		selfAddress = fmt.Sprintf("http://localhost%s", *addr)
	}
	if dataDir == "" {
		// Mirrors original_source/worker.py's per-worker default so
		// multiple workers sharing a working directory don't clobber
		// each other's files.
		dataDir = fmt.Sprintf("data_%s", id)
	}

	s, err := store.Open(dataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	httpClient := &http.Client{Timeout: requestTimeout}
	controllerClient := coordinator.NewHTTPControllerClient(controllerAddr, httpClient)
	peerClient := coordinator.NewHTTPPeerClient(httpClient)

	coord := coordinator.New(coordinator.Config{
		SelfAddress:    selfAddress,
		WriteQuorum:    writeQuorum,
		RequestTimeout: requestTimeout,
	}, s, controllerClient, peerClient)

	puller := workerapi.NewHTTPPuller(httpClient)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(workerapi.Logger(), workerapi.Recovery())

	handler := workerapi.NewHandler(s, coord, puller, id, selfAddress)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	go heartbeat.Loop(heartbeatCtx, httpClient, controllerAddr, id, selfAddress, 2*time.Second)

	go func() {
		log.Printf("worker %s listening on %s (address=%s controller=%s write-quorum=%d)",
			id, *addr, selfAddress, controllerAddr, writeQuorum)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down worker %s", id)
	cancelHeartbeat()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
