// Package main initializes and starts the PLMSync registry HTTPS server,
// setting up configuration, logging, database connections, the file vault,
// repositories, services, handlers, and TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/certgen"
	"github.com/atinyakov/PLMSync/internal/config"
	"github.com/atinyakov/PLMSync/internal/db"
	"github.com/atinyakov/PLMSync/internal/logger"
	"github.com/atinyakov/PLMSync/internal/repository"
	"github.com/atinyakov/PLMSync/internal/server/handler/http"
	"github.com/atinyakov/PLMSync/internal/service"
	"github.com/atinyakov/PLMSync/internal/vault"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, file and environment configuration.
	options, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	if err := log.InitWith(logger.Config{Level: options.LogLevel, Format: options.LogFormat}); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	fileVault, err := vault.Open(ctx, options.Vault)
	if err != nil {
		zapLogger.Fatal("cannot open file vault", zap.String("kind", options.Vault.Kind), zap.Error(err))
	}

	// The CA signs user certificates on registration.
	authority, err := certgen.LoadAuthority(options.TLS.CAFile, options.TLS.CAKeyFile)
	if err != nil {
		zapLogger.Fatal("failed to load CA", zap.Error(err))
	}

	if options.OrphanSweepInterval > 0 {
		db.StartOrphanReporter(ctx, postgresDB,
			options.OrphanSweepInterval,
			options.OrphanRetention,
			zapLogger,
		)
	}

	// Initialize repositories.
	authRepo := repository.NewPostgresAuthRepository(postgresDB)
	itemRepo := repository.NewPostgresItemRepository(postgresDB)
	fileRepo := repository.NewPostgresFileRepository(postgresDB)

	// Initialize business-logic services.
	authService := service.NewAuthService(authRepo, authority)
	registryService := service.NewRegistryService(itemRepo, fileRepo, fileVault, service.WithLogger(zapLogger))

	// Create HTTP handlers.
	authHandler := &http.AuthHandler{AuthService: authService, Log: zapLogger}
	registryHandler := &http.RegistryHandler{Service: registryService, Log: zapLogger}

	// Build the router with middleware and routes.
	router := http.NewRouter(authHandler, registryHandler, zapLogger)

	// Load server TLS certificate and key.
	cert, err := tls.LoadX509KeyPair(options.TLS.CertFile, options.TLS.KeyFile)
	if err != nil {
		zapLogger.Fatal("failed to load server TLS cert/key", zap.Error(err))
	}

	// Load and append CA certificate for client cert verification.
	caCert, err := os.ReadFile(options.TLS.CAFile)
	if err != nil {
		zapLogger.Fatal("failed to read CA cert", zap.Error(err))
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		zapLogger.Fatal("failed to append CA cert to pool")
	}

	// Registration happens before the user holds a certificate, so client
	// certificates are verified only when presented.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTPS server",
		zap.String("addr", options.Addr),
		zap.String("vault", options.Vault.Kind),
	)
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
