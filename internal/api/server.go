package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"fieldops/internal/auth"
	"fieldops/internal/config"
	"fieldops/internal/dispatch"
	"fieldops/internal/estimate"
	"fieldops/internal/store"
)

type Server struct {
	Store       store.Store
	Auth        *auth.Verifier
	Broker      EventBroker
	Engine      dispatch.Engine
	Coordinator *dispatch.Coordinator
	Logger      *slog.Logger
	Cfg         config.Config
}

// NewServer wires the store, estimator, engine, and coordinator from
// configuration. If DATABASE_URL is unset, uses the in-memory store.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dayStart := cfg.WorkDayStartMinutes()

	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		mem := store.NewMemory()
		mem.DefaultDayStart = dayStart
		st = mem
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		sp.DefaultDayStart = dayStart
		if cfg.MigrateDir != "" {
			if err := sp.MigrateDir(context.Background(), cfg.MigrateDir); err != nil {
				logger.Warn("migrations failed", "error", err)
			}
		}
		st = sp
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis broker unavailable, using in-memory broker", "error", err)
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	est := buildEstimator(cfg.Dispatch.Estimator)

	eng := dispatch.Engine{
		Store:       st,
		Partitioner: dispatch.Partitioner{MaxStopsPerTechnician: cfg.Dispatch.MaxStopsPerTechnician},
		Sequencer: dispatch.Sequencer{
			Estimator:        est,
			FallbackDriveMin: cfg.Dispatch.FallbackDriveMin,
			Logger:           logger,
		},
		Logger:          logger,
		DefaultDayStart: dayStart,
	}
	coord := dispatch.NewCoordinator(dispatch.CoordinatorOptions{
		Store:          st,
		Detector:       dispatch.Detector{Estimator: est},
		Logger:         logger,
		ConfirmTimeout: cfg.Dispatch.ConfirmTimeout,
		QueueBound:     cfg.Dispatch.CommitQueueBound,
	})

	return &Server{
		Store:       st,
		Auth:        auth.NewVerifierFromEnv(),
		Broker:      broker,
		Engine:      eng,
		Coordinator: coord,
		Logger:      logger,
		Cfg:         cfg,
	}, nil
}

func buildEstimator(ec config.EstimatorConfig) estimate.Estimator {
	switch strings.ToLower(ec.Mode) {
	case "haversine":
		return estimate.NewHaversine(ec.AvgSpeedMPH)
	case "http":
		return estimate.NewHTTPEstimator(ec.BaseURL, ec.APIKey, ec.RPS)
	default:
		return estimate.NewFixed()
	}
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	// For now, get tenant from header; in production decode from JWT.
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}
