// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-norm/adapter"
	"github.com/LerianStudio/lib-norm/events"
	"github.com/LerianStudio/lib-norm/mcircuitbreaker"
	"github.com/LerianStudio/lib-norm/mlog"
	"github.com/LerianStudio/lib-norm/mmongo"
	"github.com/LerianStudio/lib-norm/model"
	"github.com/LerianStudio/lib-norm/mpool"
	"github.com/LerianStudio/lib-norm/mredis"
	"github.com/LerianStudio/lib-norm/mretry"
	"github.com/LerianStudio/lib-norm/mzap"
	"github.com/LerianStudio/lib-norm/records"
	"github.com/LerianStudio/lib-norm/security"
)

// Service is the wired runtime: connection hubs, pool, store, registry,
// security and event bus, ready to hand out environments.
type Service struct {
	Config   *Config
	Logger   mlog.Logger
	Mongo    *mmongo.MongoConnection
	Redis    *mredis.RedisConnection
	Pool     *mpool.Pool
	Store    adapter.Store
	Registry *model.Registry
	Bus      *events.RedisBus
	Security *records.Security
}

// Options contains optional dependencies that can be injected by callers.
type Options struct {
	Logger mlog.Logger
	// Users resolves environment user ids; nil leaves security bypassed.
	Users security.Directory
}

// InitService builds the runtime from config and the declared models.
func InitService(cfg *Config, declarations []*model.Declaration, opts *Options) (*Service, error) {
	var logger mlog.Logger

	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	} else {
		var err error

		logger, err = mzap.InitializeLoggerWithError()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	registry, err := model.BuildRegistry(declarations)
	if err != nil {
		return nil, fmt.Errorf("failed to build model registry: %w", err)
	}

	mongoConnection := &mmongo.MongoConnection{
		ConnectionStringSource: cfg.MongoURI,
		Database:               cfg.Database,
		MaxPoolSize:            uint64(cfg.PoolMaxSize),
		Logger:                 logger,
	}

	pool := mpool.New(mpool.Config{
		MinSize:                 cfg.PoolMinSize,
		MaxSize:                 cfg.PoolMaxSize,
		AcquireTimeout:          cfg.PoolAcquireTimeout,
		IdleTTL:                 cfg.PoolIdleTTL,
		ValidationInterval:      cfg.PoolValidationInterval,
		CircuitFailureThreshold: uint32(cfg.CircuitFailureThreshold),
		CircuitOpenDuration:     cfg.CircuitOpenDuration,
		HalfOpenProbes:          uint32(cfg.CircuitHalfOpenProbes),
		Retry: storeRetryConfig(cfg),
	}, &mpool.MongoFactory{Connection: mongoConnection}, adapter.IsTransient, logger)

	store := adapter.NewMongoStore(pool, cfg.Database)

	service := &Service{
		Config:   cfg,
		Logger:   logger,
		Mongo:    mongoConnection,
		Pool:     pool,
		Store:    store,
		Registry: registry,
	}

	if opts != nil && opts.Users != nil {
		service.Security = &records.Security{
			ACL:     &security.AccessControl{Registry: registry},
			Rules:   &security.RuleEngine{Registry: registry},
			Users:   opts.Users,
			Auditor: &security.Auditor{Store: store},
		}
	}

	if cfg.RedisURI != "" {
		service.Redis = &mredis.RedisConnection{
			ConnectionStringSource: cfg.RedisURI,
			Logger:                 logger,
		}

		service.Bus = events.NewRedisBus(service.Redis, events.Config{
			QueueName:         cfg.EventsQueueName,
			BatchSize:         cfg.EventsBatchSize,
			PollInterval:      cfg.EventsPollInterval,
			MaxRetries:        cfg.EventsMaxRetries,
			WorkerConcurrency: cfg.EventsNumWorkers,
			Retry: eventRetryConfig(cfg),
		}, logger)
	}

	return service, nil
}

// storeRetryConfig overlays the configured retry knobs onto the store
// defaults, keeping defaults where the config is silent.
func storeRetryConfig(cfg *Config) mretry.Config {
	retry := mretry.DefaultStoreConfig()

	if cfg.RetryMaxAttempts > 0 {
		retry = retry.WithMaxRetries(cfg.RetryMaxAttempts)
	}

	if cfg.RetryBaseDelay > 0 {
		retry = retry.WithInitialBackoff(cfg.RetryBaseDelay)
	}

	if cfg.RetryMaxDelay > 0 {
		retry = retry.WithMaxBackoff(cfg.RetryMaxDelay)
	}

	return retry
}

func eventRetryConfig(cfg *Config) mretry.Config {
	retry := mretry.DefaultEventConfig()

	if cfg.EventsRetryBaseDelay > 0 {
		retry = retry.WithInitialBackoff(cfg.EventsRetryBaseDelay)
	}

	if cfg.EventsRetryMaxDelay > 0 {
		retry = retry.WithMaxBackoff(cfg.EventsRetryMaxDelay)
	}

	return retry
}

// NewEnvironment hands out a root environment running as userID.
func (s *Service) NewEnvironment(userID string) *records.Environment {
	var bus records.EventPublisher
	if s.Bus != nil {
		bus = s.Bus
	}

	return records.NewEnvironment(s.Store, s.Registry, userID, s.Security, bus, s.Logger)
}

// EnsureIndexes creates the declared indexes of every registered model.
func (s *Service) EnsureIndexes(ctx context.Context) error {
	mongoStore, ok := s.Store.(*adapter.MongoStore)
	if !ok {
		return nil
	}

	for _, name := range s.Registry.ModelNames() {
		m, err := s.Registry.Model(name)
		if err != nil {
			return err
		}

		if err := mongoStore.EnsureIndexes(ctx, m); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	return nil
}

// Health reports the pool snapshot and breaker state for readiness probes.
func (s *Service) Health() mpool.Health {
	return s.Pool.Health()
}

// Shutdown stops the event workers and drains the pool. Idempotent.
func (s *Service) Shutdown(ctx context.Context) {
	if s.Bus != nil {
		s.Bus.Stop()
	}

	s.Pool.Close()

	if s.Pool.Health().CircuitState == mcircuitbreaker.StateOpen {
		s.Logger.Warn("shutting down with the store circuit open")
	}

	_ = s.Logger.Sync()
}
