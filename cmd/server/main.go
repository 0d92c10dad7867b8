package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/sfu/internal/adapters/http"
	sig "github.com/dkeye/sfu/internal/adapters/signal"
	"github.com/dkeye/sfu/internal/app/sfu"
	"github.com/dkeye/sfu/internal/config"
	"github.com/dkeye/sfu/internal/core"
)

func setLogLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("log_level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(l)
}

func loadCertificate(path string) (webrtc.Certificate, error) {
	if path == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return webrtc.Certificate{}, err
		}
		cert, err := webrtc.GenerateCertificate(key)
		if err != nil {
			return webrtc.Certificate{}, err
		}
		return *cert, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return webrtc.Certificate{}, err
	}
	cert, err := webrtc.CertificateFromPEM(string(pem))
	if err != nil {
		return webrtc.Certificate{}, fmt.Errorf("%w: %w", core.ErrInvalidCertificate, err)
	}
	return *cert, nil
}

func startWorkers(ctx context.Context, cfg *config.Config, cert webrtc.Certificate, m *sfu.Manager) error {
	serverCfg := core.NewServerConfig([]webrtc.Certificate{cert}).
		WithIdleTimeout(cfg.IdleTimeout).
		WithTransceivers(cfg.Transceivers)

	for _, port := range m.Ports() {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.MediaHost(), fmt.Sprint(port)))
		if err != nil {
			return err
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("listen media port %d: %w", port, err)
		}
		states, err := core.NewServerStates(serverCfg, conn.LocalAddr().(*net.UDPAddr).AddrPort())
		if err != nil {
			_ = conn.Close()
			return err
		}
		m.StartWorker(ctx, sfu.NewWorker(conn, states))
		log.Info().Str("module", "main").Stringer("addr", conn.LocalAddr()).Msg("media worker started")
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)
	cfg.OnLogLevelChange(setLogLevel)

	cert, err := loadCertificate(cfg.CertFile)
	if err != nil {
		log.Fatal().Err(err).Str("cert_file", cfg.CertFile).Msg("failed to load certificate")
	}

	manager := sfu.NewManager(cfg.MediaPorts())
	if err := startWorkers(ctx, cfg, cert, manager); err != nil {
		log.Error().Err(err).Msg("failed to start media workers")
		cancel()
		manager.Wait()
		os.Exit(1)
	}

	signaler := sig.NewSignaler(manager, sig.NewOfferRateLimiter(cfg.OfferLimit, cfg.OfferInterval), cfg.RequestTimeout)
	r := router.SetupRouter(ctx, cfg, signaler)
	addr := fmt.Sprintf(":%d", cfg.SignalPort)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("SFU signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	manager.Wait()
	log.Info().Msg("Server exited gracefully")
}
