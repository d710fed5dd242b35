// next-client runs a standalone data-plane client against a route
// controller and a next-server: it opens a session, sends a small payload
// every second, and reports both paths' stats — a smoke-test harness for
// the full install/migrate/fallback machinery.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/networknext/next-go/client"
	"github.com/networknext/next-go/internal/telemetry"
	"github.com/networknext/next-go/routecontrol"
	"github.com/networknext/next-go/token"
	"github.com/networknext/next-go/transport"
)

func parseKey(s string) (*token.KeyPair, error) {
	if s == "" {
		return token.GenerateKeyPair()
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	switch len(raw) {
	case token.PrivateKeySize:
		return token.KeyPairFromPrivateKey(raw)
	case ed25519.PrivateKeySize:
		return token.KeyPairFromEd25519(ed25519.PrivateKey(raw))
	default:
		return nil, fmt.Errorf("expected %d or %d key bytes, got %d", token.PrivateKeySize, ed25519.PrivateKeySize, len(raw))
	}
}

func parsePublicKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("not base64: %w", err)
	}
	if len(raw) != token.PublicKeySize {
		return out, fmt.Errorf("expected %d public key bytes, got %d", token.PublicKeySize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

var counterNames = []string{
	"NO_NEAR_RELAYS", "OPEN_SESSION", "OPEN_SESSION_DIRECT", "CLOSE_SESSION",
	"FALLBACK_TO_DIRECT", "CANT_BEAT_DIRECT", "ROUTE_UPDATE_TIMEOUT", "SERVER_TO_CLIENT_TIMEOUT",
}

func run() error {
	serverAddr := flag.String("server", "", "game server address, host:port")
	controllerURL := flag.String("controller", "", "route controller base URL (empty with -direct runs controller-less)")
	direct := flag.Bool("direct", false, "open a direct session, no relay chain")
	metricsAddr := flag.String("metrics", "", "Prometheus metrics listen address (empty disables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logPath := flag.String("log-file", "", "rotating log file (empty logs to stderr)")
	privateKey := flag.String("private-key", "", "base64 client private key (X25519 or Ed25519; generated if empty)")
	controllerKey := flag.String("controller-public-key", "", "base64 route controller public key")
	permissive := flag.Bool("permissive-timeouts", false, "use the relaxed controller timeout tier")
	flag.Parse()

	if *serverAddr == "" {
		return fmt.Errorf("-server is required")
	}

	logger := telemetry.NewLogger(telemetry.LogConfig{Level: *logLevel, Path: *logPath, Console: true})

	keys, err := parseKey(*privateKey)
	if err != nil {
		return fmt.Errorf("-private-key: %w", err)
	}
	var ctrlKey [32]byte
	if *controllerKey != "" {
		if ctrlKey, err = parsePublicKey(*controllerKey); err != nil {
			return fmt.Errorf("-controller-public-key: %w", err)
		}
	}

	var ctrl routecontrol.Controller
	if *controllerURL != "" {
		timeouts := routecontrol.LowLatencyTimeouts
		if *permissive {
			timeouts = routecontrol.PermissiveTimeouts
		}
		ctrl = routecontrol.NewHTTPController(routecontrol.HTTPConfig{
			BaseURL:  *controllerURL,
			Timeouts: timeouts,
			Logger:   logger,
		})
	} else if !*direct {
		return fmt.Errorf("-controller is required unless -direct is set")
	}

	udp := transport.NewUDP(transport.UDPConfig{ListenAddress: ":0", Logger: logger})
	c := client.New(client.Config{
		DirectOnly:          *direct,
		UpdateInterval:      10 * time.Millisecond,
		ClientPrivateKey:    keys.PrivateKey,
		ClientPublicKey:     keys.PublicKey,
		ControllerPublicKey: ctrlKey,
		Logger:              logger,
	}, udp, ctrl, func(payload []byte) {
		logger.Debug("payload received", "size", len(payload))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return err
	}

	// Wait for LOCATING to finish before opening.
	for c.State() != client.StateReady {
		if c.State() == client.StateStopped {
			if cerr := c.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("client stopped before ready")
		}
		select {
		case <-ctx.Done():
			return c.Destroy()
		case <-time.After(50 * time.Millisecond):
		}
	}

	if *direct {
		err = c.OpenDirect(*serverAddr)
	} else {
		err = c.OpenSession(ctx, *serverAddr)
	}
	if err != nil {
		_ = c.Destroy()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(telemetry.NewCounterCollector("next_client", counterNames, c.Counters))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		payload := []byte("keepalive")
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := c.SendPacket(payload); err != nil {
					logger.Debug("send failed", "error", err)
				}
				if sample, ok := c.LatestStats(); ok {
					logger.Info("stats",
						"state", c.State().String(),
						"backup", c.BackupFlow(),
						"direct_rtt_ms", sample.DirectRTT,
						"next_rtt_ms", sample.NextRTT,
						"direct_loss", sample.DirectLoss,
						"next_loss", sample.NextLoss)
				}
			}
		}
	})

	err = g.Wait()
	if derr := c.Destroy(); err == nil {
		err = derr
	}
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
