// Package app composes the oracle services and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	registrysvc "github.com/R3E-Network/twap_oracle/internal/app/services/registry"
	twapsvc "github.com/R3E-Network/twap_oracle/internal/app/services/twap"
	"github.com/R3E-Network/twap_oracle/internal/app/storage"
	"github.com/R3E-Network/twap_oracle/internal/app/storage/memory"
	"github.com/R3E-Network/twap_oracle/internal/app/system"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Pairs storage.PairStore
}

// Application ties the registry and oracle together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry *registrysvc.Service
	Oracle   *twapsvc.Service
	Source   twapsvc.CumulativeSource
}

// New builds a fully initialised application. A nil source selects the
// HTTP source when TWAP_SOURCE_URL is set, otherwise the built-in
// simulated accumulator.
func New(oracleCfg twapsvc.Config, stores Stores, source twapsvc.CumulativeSource, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Pairs == nil {
		stores.Pairs = memory.New()
	}

	registryService := registrysvc.New(stores.Pairs, log)

	if source == nil {
		if endpoint := strings.TrimSpace(os.Getenv("TWAP_SOURCE_URL")); endpoint != "" {
			httpClient := &http.Client{Timeout: 10 * time.Second}
			httpSource, err := twapsvc.NewHTTPSource(httpClient, endpoint, os.Getenv("TWAP_SOURCE_KEY"), log)
			if err != nil {
				return nil, fmt.Errorf("configure cumulative source: %w", err)
			}
			source = httpSource
		} else {
			log.Warn("TWAP_SOURCE_URL not set; using simulated cumulative source")
			source = twapsvc.NewSimulatedSource()
		}
	}

	oracleService, err := twapsvc.New(oracleCfg, registryService, source, log)
	if err != nil {
		return nil, fmt.Errorf("construct oracle: %w", err)
	}

	manager := system.NewManager()
	if err := manager.Register(system.NoopService{ServiceName: "registry"}); err != nil {
		return nil, fmt.Errorf("register registry service: %w", err)
	}

	refresher := twapsvc.NewRefresher(oracleService, registryService, log)
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Registry: registryService,
		Oracle:   oracleService,
		Source:   source,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
