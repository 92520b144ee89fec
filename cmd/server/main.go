package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manpreetbhatti/sketchroom/backend/internal/api"
	"github.com/manpreetbhatti/sketchroom/backend/internal/autosave"
	"github.com/manpreetbhatti/sketchroom/backend/internal/config"
	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/discovery"
	"github.com/manpreetbhatti/sketchroom/backend/internal/hub"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.StoreOptions())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	if store != nil {
		defer store.Close()
	}

	h := hub.NewHub(store)

	limiters := ratelimit.NewClientLimiters(cfg.MessagesPerSecond, cfg.MessageBurst)
	defer limiters.Stop()

	apiHandler := api.New(h, store, limiters)
	router := apiHandler.Router()

	// Sessions get their own buckets, apart from the HTTP ones keyed by address.
	wsLimiters := ratelimit.NewClientLimiters(cfg.MessagesPerSecond, cfg.MessageBurst)
	defer wsLimiters.Stop()
	router.HandleFunc("/ws", ws.Handler(h, wsLimiters))
	if cfg.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}

	var saver *autosave.Service
	if store != nil && cfg.AutosaveInterval > 0 {
		saver = autosave.New(h, autosave.Config{Interval: cfg.AutosaveInterval})
		saver.Start()
	}

	if cfg.MDNS {
		port, _ := strconv.Atoi(cfg.Port)
		announcer, err := discovery.Announce(port)
		if err != nil {
			log.Printf("⚠️ mDNS disabled: %v", err)
		} else {
			defer announcer.Shutdown()
		}
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: corsMiddleware(router),
	}

	log.Printf("🖌️ SketchRoom server starting on :%s", cfg.Port)
	log.Printf("📁 Store: %s (%s)", cfg.Store, cfg.Location())
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?room={roomKey}&name={name}&color={color}")
	log.Println("  - Save:      POST /save")
	log.Println("  - Load:      GET /load?roomKey={roomKey}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms, GET /api/rooms/{key}")
	log.Println("  - Saved:     GET /api/saved, DELETE /api/saved/{key}")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
	}

	if saver != nil {
		saver.Stop()
	}
	log.Println("Server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
