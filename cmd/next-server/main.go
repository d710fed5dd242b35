// next-server runs a standalone data-plane server: UDP listener, session
// table, Prometheus metrics and a rotating structured log. Received game
// payloads are echoed back to their session, which is enough to exercise
// every packet path end to end against a next-client.
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

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/internal/telemetry"
	"github.com/networknext/next-go/queue"
	"github.com/networknext/next-go/server"
	"github.com/networknext/next-go/token"
	"github.com/networknext/next-go/transport"
)

const updateInterval = 10 * time.Millisecond

// parseKey accepts either a raw base64 X25519 private key (32 bytes) or a
// base64 Ed25519 private key (64 bytes), converting the latter so nodes
// can reuse an existing Ed25519 identity.
func parseKey(s string) (*token.KeyPair, error) {
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

func run() error {
	listenAddr := flag.String("listen", "0.0.0.0:40000", "UDP listen address")
	metricsAddr := flag.String("metrics", "127.0.0.1:9102", "Prometheus metrics listen address (empty disables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logPath := flag.String("log-file", "", "rotating log file (empty logs to stderr)")
	privateKey := flag.String("private-key", "", "base64 server private key (X25519 or Ed25519)")
	controllerKey := flag.String("controller-public-key", "", "base64 route controller public key")
	maxSessions := flag.Int("max-sessions", server.DefaultMaxSessions, "session table capacity")
	sessionTimeout := flag.Duration("session-timeout", server.DefaultSessionTimeout, "session timeout")
	flag.Parse()

	logger := telemetry.NewLogger(telemetry.LogConfig{Level: *logLevel, Path: *logPath, Console: true})

	keys, err := parseKey(*privateKey)
	if err != nil {
		return fmt.Errorf("-private-key: %w", err)
	}
	ctrlKey, err := parsePublicKey(*controllerKey)
	if err != nil {
		return fmt.Errorf("-controller-public-key: %w", err)
	}

	udp := transport.NewUDP(transport.UDPConfig{ListenAddress: *listenAddr, Logger: logger})

	var srv *server.Server
	srv = server.New(server.Config{
		MaxSessions:         *maxSessions,
		SessionTimeout:      *sessionTimeout,
		PublicKey:           keys.PublicKey,
		PrivateKey:          keys.PrivateKey,
		ControllerPublicKey: ctrlKey,
		Logger:              logger,
	}, udp, func(addr address.Address, flowID uint64, payload []byte) {
		if err := srv.SendToAddress(addr, payload); err != nil {
			logger.Debug("echo failed", "flow_id", flowID, "error", err)
		}
	})

	q := queue.New(0)
	udp.SetPacketHandler(func(packet []byte, from address.Address, at time.Time) {
		q.Push(queue.Entry{Timestamp: at, Source: from, Data: packet})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return udp.Start(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				srv.Update(q.Swap())
			}
		}
	})

	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(telemetry.NewSessionCollector("next_server", srv.SessionCount))
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
		<-gctx.Done()
		return udp.Stop()
	})

	logger.Info("server running", "listen", *listenAddr, "max_sessions", *maxSessions)
	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
