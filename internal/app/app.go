package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/kafka/notifier"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/payment/stripe"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/postgres"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/lib/lock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/metrics"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service"
	transport "github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/transport/http"
)

type Notifier interface {
	Close() error
}

// Server owns every long-lived resource of the checkout service and tears
// them down in reverse order of construction.
type Server struct {
	log      *slog.Logger
	pool     *pgxpool.Pool
	notifier Notifier
	httpSrv  *http.Server
}

func NewServer(cfg config.Config, log *slog.Logger) (*Server, error) {
	// init metrics Prometheus
	metrics.Register()

	// init conn pool to Postgres
	pool, err := initPostgresPool(cfg.Postgres, log)
	if err != nil {
		return nil, err
	}

	// apply migrations
	if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
		log.Error("failed to apply migrations", slog.Any("error", err))
		pool.Close()
		return nil, err
	}

	// init repositories
	purchaseRepo := postgres.NewPurchaseRepository(pool, log)
	catalogRepo := postgres.NewCatalogRepository(pool, log)
	promoRepo := postgres.NewPromoRepository(pool, log)

	// init payment provider
	provider := stripe.NewProvider(cfg.Stripe, log)

	// init kafka notifier
	events, err := notifier.NewNotifier(cfg.Kafka, log)
	if err != nil {
		log.Error("failed to create kafka notifier", slog.Any("error", err))
		pool.Close()
		return nil, err
	}

	// init checkout service
	locks := lock.NewManager(cfg.Checkout.LockTimeout, cfg.Checkout.LockHoldCeiling)
	checkout := service.NewCheckoutService(
		cfg.Checkout,
		purchaseRepo,
		catalogRepo,
		promoRepo,
		provider,
		events,
		locks,
		log,
	)

	// init HTTP transport
	srv := transport.NewServer(checkout, log)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPServer.Host, cfg.HTTPServer.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &Server{
		log:      log,
		pool:     pool,
		notifier: events,
		httpSrv:  httpSrv,
	}, nil
}

func initPostgresPool(cfg config.Postgres, log *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		log.Error("failed to parse postgres dsn", slog.Any("error", err))
		return nil, err
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		log.Error("failed to connect to database", slog.Any("error", err))
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		log.Error("failed to ping database", slog.Any("error", err))
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func (s *Server) Run() error {
	s.log.Info("http server listening", slog.String("address", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server...")

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Error("failed to stop http server", slog.Any("error", err))
	}

	if err := s.notifier.Close(); err != nil {
		s.log.Error("failed to close notifier", slog.Any("error", err))
	}

	s.pool.Close()

	s.log.Info("server stopped")
	return nil
}
