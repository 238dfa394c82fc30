package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/soilbridge/pumpd/internal/config"
	"github.com/soilbridge/pumpd/internal/db"
	"github.com/soilbridge/pumpd/internal/history"
	"github.com/soilbridge/pumpd/internal/ledger"
	"github.com/soilbridge/pumpd/internal/mqtt"
	"github.com/soilbridge/pumpd/internal/notify"
	"github.com/soilbridge/pumpd/internal/pump"
	"github.com/soilbridge/pumpd/internal/settings"
	"github.com/soilbridge/pumpd/internal/web"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Settings *settings.Store
	History  *history.Log
	Usage    *ledger.Ledger
	Notify   *notify.Log

	// Core
	State  *pump.State
	Bridge *pump.Bridge

	// Boundaries
	Web *web.Server

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Collaborator stores share one connection
	s.Settings = settings.New(database.DB)
	s.History = history.New(database.DB)
	s.Usage = ledger.New(database.DB)
	s.Notify = notify.New(database.DB)

	// The state store is constructed once here and passed by reference
	// everywhere; there is no ambient singleton.
	s.State = pump.NewState()
	s.Bridge = pump.NewBridge(s.State, s.Settings, s.History, s.Usage, s.Notify)

	s.Web = web.NewServer(cfg.Server.Host, cfg.Server.Port, s.Bridge, s.Settings, s.History, s.Usage, s.Notify)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Web.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()

	if s.cfg.MQTT.Enabled {
		client, err := mqtt.Connect(ctx, s.cfg.MQTT)
		if err != nil {
			return err
		}
		source := mqtt.NewSource(client, s.cfg.MQTT.Topic, s.Bridge, s.cfg.MQTT.RateRPS)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := source.Run(ctx); err != nil {
				onFatalError(err)
			}
		}()
	} else {
		log.Debug().Msg("MQTT telemetry source disabled")
	}

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.wg.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
