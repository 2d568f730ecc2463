package main

import (
	"log"
	"net/http"

	"github.com/pmhub/hubsync/internal/config"
	"github.com/pmhub/hubsync/internal/httpapi"
	"github.com/pmhub/hubsync/internal/hubstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	backend, err := hubstore.BuildDocumentBackendFromDSN(cfg.DocumentDSN())
	if err != nil {
		log.Fatalf("failed to initialize document backend: %v", err)
	}

	store := hubstore.NewStoreWithOptions(hubstore.StoreOptions{
		Backend: backend,
		Logger:  log.Default(),
	})
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:       cfg.Server.JWTSecret,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow.Std(),
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		WatchOrigins:    cfg.Server.WatchOrigins,
	})

	log.Printf("hubsyncd listening on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
