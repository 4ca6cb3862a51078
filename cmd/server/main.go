package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mapchat/syncd/internal/api"
	"github.com/mapchat/syncd/internal/auth"
	"github.com/mapchat/syncd/internal/chatcrypto"
	"github.com/mapchat/syncd/internal/config"
	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/media"
	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/service"
	"github.com/mapchat/syncd/internal/storage"
	"github.com/mapchat/syncd/internal/storage/amqpfeed"
	"github.com/mapchat/syncd/internal/storage/dynamo"
	"github.com/mapchat/syncd/internal/storage/sqlite"
	"github.com/mapchat/syncd/pkg/logging"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.SetupForEnv(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	store := storage.New(backend,
		storage.WithFeed(amqpfeed.New(cfg.Changes.AMQPURL, cfg.Changes.Exchange, logger)),
		storage.WithCacheTTL(cfg.Storage.CacheTTL),
		storage.WithTimeout(cfg.Storage.Timeout),
		storage.WithLogger(logger),
	)
	defer store.Close()
	logger.Info("Storage initialized", "backend", cfg.Storage.Backend)

	uploader, err := openUploader(ctx, cfg)
	if err != nil {
		return err
	}
	sealer, err := openSealer(cfg.Chat)
	if err != nil {
		return err
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	providers := identityProviders(cfg.Auth)
	groups := service.NewGroupService(store)

	devices := api.NewDevices(func(sensor location.Sensor) service.Locations {
		return service.NewLocationService(store, sensor, cfg.Location.FixTimeout, logger)
	})
	defer devices.Close()

	server := api.NewServer(api.Services{
		Sessions: func() service.Auth {
			return service.NewAuthService(store, jwtManager, logger, providers...)
		},
		Devices: devices,
		Trips:   service.NewTripService(store, groups),
		Groups:  groups,
		Chat:    service.NewChatService(store, uploader, sealer),
	},
		connect.WithInterceptors(
			middleware.RequireAuth(jwtManager, api.PublicProcedures...),
			middleware.LoggingInterceptor(),
		),
		connect.WithReadMaxBytes(cfg.HTTP.MaxRequestBytes),
	)

	mux := http.NewServeMux()
	server.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms"},
		ExposedHeaders:   []string{"Connect-Protocol-Version", "Connect-Timeout-Ms", "Mapchat-Error-Domain", "Mapchat-Error-Code"},
		AllowCredentials: true,
	}).Handler(loggingMiddleware(mux))

	// h2c serves HTTP/2 without TLS, which server streams need.
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Connect server starting", "address", cfg.HTTP.Address, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	if cfg.Backend == config.BackendDynamo {
		b, err := dynamo.New(ctx, dynamo.Config{
			Table:    cfg.Dynamo.Table,
			Region:   cfg.Dynamo.Region,
			Endpoint: cfg.Dynamo.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Dynamo.CreateTable {
			if err := b.EnsureTable(ctx); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
	b, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openUploader(ctx context.Context, cfg *config.Config) (media.Uploader, error) {
	if !cfg.MediaEnabled() {
		return media.Disabled{}, nil
	}
	return media.NewS3Uploader(ctx, media.S3Config{
		Bucket:        cfg.Media.Bucket,
		Region:        cfg.Media.Region,
		Endpoint:      cfg.Media.Endpoint,
		Prefix:        cfg.Media.Prefix,
		PublicBaseURL: cfg.Media.PublicBaseURL,
		URLExpiry:     cfg.Media.URLExpiry,
	})
}

func openSealer(cfg config.ChatConfig) (*chatcrypto.Sealer, error) {
	if cfg.EncryptionKey == "" {
		return nil, nil
	}
	return chatcrypto.NewSealer(cfg.EncryptionKey)
}

func identityProviders(cfg config.AuthConfig) []auth.IdentityProvider {
	var providers []auth.IdentityProvider
	if cfg.AppleClientID != "" {
		providers = append(providers, auth.NewAppleProvider(cfg.AppleClientID))
	}
	if cfg.GoogleClientID != "" {
		providers = append(providers, auth.NewGoogleProvider(cfg.GoogleClientID))
	}
	if cfg.DevProvider {
		providers = append(providers, auth.DevProvider{})
	}
	return providers
}

// loggingMiddleware logs plain HTTP requests. RPCs are logged by the connect
// interceptor.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
