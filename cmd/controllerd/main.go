// cmd/controllerd is the controller process: the membership registry,
// the failure detector, the repair engine, and the controller's Gin
// HTTP API.
//
// Configuration follows original_source/controller.py's environment
// variables (WORKERS, REPLICAS, HEARTBEAT_TIMEOUT, CHECK_INTERVAL),
// with flags layered on top for operational overrides.
//
// Example:
//
//	WORKERS=http://localhost:9001,http://localhost:9002,http://localhost:9003 \
//	REPLICAS=3 ./controllerd -addr :8000
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kvshard/internal/controllerapi"
	"kvshard/internal/membership"
	"kvshard/internal/repair"
)

func main() {
	fallbackWorkers := splitCSV(getenv("WORKERS", ""))
	replicas := getenvInt("REPLICAS", 3)
	heartbeatTimeout := getenvDuration("HEARTBEAT_TIMEOUT", 6*time.Second)
	checkInterval := getenvDuration("CHECK_INTERVAL", 2*time.Second)

	addr := flag.String("addr", ":8000", "listen address (host:port)")
	flag.IntVar(&replicas, "replicas", replicas, "replication factor R")
	flag.DurationVar(&heartbeatTimeout, "heartbeat-timeout", heartbeatTimeout, "worker liveness timeout")
	flag.DurationVar(&checkInterval, "check-interval", checkInterval, "failure detector scan interval")
	workersFlag := flag.String("workers", strings.Join(fallbackWorkers, ","), "comma-separated fallback worker addresses")
	flag.Parse()

	registry := membership.New(splitCSV(*workersFlag))

	repairClient := repair.NewHTTPClient(3 * time.Second)
	repairEngine := repair.NewEngine(repairClient, replicas)

	detector := membership.NewDetector(registry, repairEngine, checkInterval, heartbeatTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	go detector.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(controllerapi.Logger(), controllerapi.Recovery())

	handler := controllerapi.NewHandler(registry, replicas)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("controller listening on %s (replicas=%d heartbeat-timeout=%s check-interval=%s)",
			*addr, replicas, heartbeatTimeout, checkInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down controller")
	cancel() // stop the failure detector; in-flight repairs are detached and continue independently

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

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
