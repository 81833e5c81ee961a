// Command feeder drives a running analytics server with a synthetic energy
// ramp and subscribes to the sync session, printing the snapshots the core
// broadcasts back. Useful for demos and for exercising the full wire path.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fluxgrid/internal/protocol"
	"fluxgrid/internal/sim"
	"fluxgrid/internal/transport/syncws"
)

func main() {
	var (
		server    = flag.String("server", "http://127.0.0.1:8080", "analytics server base url")
		sessionID = flag.String("session", "session_1", "sync session id")
		interval  = flag.Duration("interval", time.Second, "tick interval")
		target    = flag.Float64("target", 2.2, "target e_t of the synthetic ramp")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[feeder] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(*server, "http") + "/v1/sync"
	channel := syncws.NewChannel(syncws.ChannelConfig{
		URL:        wsURL,
		SessionID:  *sessionID,
		ClientName: "feeder",
		OnSnapshot: func(m protocol.SnapshotMsg) {
			logger.Printf("peer %s: e_t=%.3f readiness=%.0f success=%.0f%% status=%s",
				m.From, m.Payload.ET, m.Payload.Readiness,
				m.Payload.SuccessProbability, m.Payload.SafetyStatus)
		},
		OnPresence: func(peers int) {
			logger.Printf("session peers: %d", peers)
		},
	})
	if err := channel.Connect(ctx); err != nil {
		logger.Fatalf("join sync session: %v", err)
	}
	defer channel.Close()
	channel.TrackPresence(map[string]string{"role": "feeder"})

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Printf("stopping")
			return
		case <-ticker.C:
			st := rampState(time.Since(start), *target)
			if err := postState(ctx, *server, st); err != nil {
				logger.Printf("ingest failed: %v", err)
			}
		}
	}
}

// rampState synthesizes a plausible trajectory: energy eases toward the
// target while coherence and sync wobble around healthy values.
func rampState(elapsed time.Duration, target float64) sim.State {
	t := elapsed.Seconds()
	ramp := 1 - math.Exp(-t/90)
	wobble := math.Sin(t / 7)

	return sim.State{
		ET:                target * ramp,
		TargetET:          target,
		GrowthRate:        4 + wobble,
		Momentum:          0.5 * wobble,
		NeuralBoost:       0.3,
		SpectrumBoost:     0.35,
		FractalBonus:      0.15,
		PhaseCoherence:    80 + 10*wobble,
		NeuralSync:        82 + 8*math.Cos(t/11),
		TPTT:              400 + 600*ramp,
		AdaptiveThreshold: 800,
		Trend:             sim.TrendIncreasing,
		RealtimeMode:      true,
		FractalMode:       true,
		Characteristic:    1 + 0.01*math.Floor(t/30),
		FrameRate:         58 + 4*wobble,
	}
}

func postState(ctx context.Context, server string, st sim.State) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("ingest: unexpected status %s", resp.Status)
	}
	return nil
}
