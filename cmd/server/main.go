package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"fluxgrid/internal/advisor"
	"fluxgrid/internal/core"
	"fluxgrid/internal/persistence"
	"fluxgrid/internal/persistence/indexdb"
	persistlog "fluxgrid/internal/persistence/log"
	"fluxgrid/internal/safety"
	"fluxgrid/internal/sim"
	"fluxgrid/internal/stability"
	"fluxgrid/internal/transport/syncws"
	"fluxgrid/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		sessionID  = flag.String("session", "session_1", "sync session id")
		joinSync   = flag.Bool("join_sync", true, "join the local sync session and broadcast derived snapshots")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite record index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Defaults()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		var err error
		tune, err = tuning.Load(tp)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	} else if err := tune.Validate(); err != nil {
		logger.Fatalf("default tuning invalid: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Primary record path: compressed JSONL plus an optional sqlite index.
	// Both are best-effort; the in-memory monitors stay authoritative.
	recLog := persistlog.NewRecordLogger(filepath.Join(*dataDir, "records"))
	defer recLog.Close()

	sinks := persistence.MultiSink{recLog}
	if !*disableDB {
		idx, err := indexdb.Open(filepath.Join(*dataDir, "index", "records.db"))
		if err != nil {
			logger.Fatalf("open record index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	rec := persistence.NewTiered(sinks, 256, logger)

	safetyMon := safety.New(tune.Safety, func(kind safety.Kind) {
		logger.Printf("safety override requested: %s", kind)
	}, rec)

	stabilityMon := stability.New(tune.Stability, stability.Hooks{
		OnMemoryCleanup: func() {
			logger.Printf("stability: triggering memory cleanup")
			runtime.GC()
		},
		OnRegenerateCycle: func() {
			logger.Printf("stability: characteristic value stuck, regenerate cycle requested")
		},
		OnReduceQuality: func() {
			logger.Printf("stability: frame rate degraded, reduce quality requested")
		},
	}, logger)

	adv := advisor.New(rec)

	hub := syncws.NewHub(logger, rec)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen %s: %v", *addr, err)
	}

	var channel *syncws.Channel
	if *joinSync {
		channel = syncws.NewChannel(syncws.ChannelConfig{
			URL:         fmt.Sprintf("ws://127.0.0.1:%d/v1/sync", ln.Addr().(*net.TCPAddr).Port),
			SessionID:   *sessionID,
			ClientName:  "analytics-core",
			MinInterval: time.Duration(tune.Sync.MinBroadcastIntervalMs) * time.Millisecond,
			Logger:      logger,
		})
	}

	c := core.New(tune, core.Deps{
		Safety:    safetyMon,
		Stability: stabilityMon,
		Advisor:   adv,
		Channel:   channel,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync", hub.Handler())
	mux.HandleFunc("/v1/ingest", handleIngest(c))
	mux.HandleFunc("/v1/status", handleStatus(c))
	mux.HandleFunc("/v1/suggestions/apply", handleSuggestionOp(adv.Apply))
	mux.HandleFunc("/v1/suggestions/dismiss", handleSuggestionOp(func(id string) error {
		adv.Dismiss(id)
		return nil
	}))
	mux.HandleFunc("/v1/suggestions/clear-dismissed", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		adv.ClearDismissed()
		rw.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()
	logger.Printf("listening on %s (session=%s)", ln.Addr(), *sessionID)

	if channel != nil {
		// The hub is up; join our own session so derived snapshots reach
		// the dashboard peers.
		if err := channel.Connect(ctx); err != nil {
			logger.Printf("sync join failed, continuing without peer sync: %v", err)
			channel = nil
		} else {
			channel.TrackPresence(map[string]string{"role": "core"})
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case err := <-runErr:
		logger.Printf("core loop exited: %v", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
}

func handleIngest(c *core.Core) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var st sim.State
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			http.Error(rw, "bad state", http.StatusBadRequest)
			return
		}
		c.Submit(st)
		rw.WriteHeader(http.StatusAccepted)
	}
}

func handleStatus(c *core.Core) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		st := c.Status()
		st.Metrics = st.Metrics.JSONSafe()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(st)
	}
}

func handleSuggestionOp(op func(id string) error) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(rw, "missing id", http.StatusBadRequest)
			return
		}
		if err := op(id); err != nil {
			http.Error(rw, err.Error(), http.StatusConflict)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}
