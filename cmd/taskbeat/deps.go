package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/hotloader"
	"github.com/taskbeat/taskbeat/internal/invoker"
	"github.com/taskbeat/taskbeat/internal/logging"
	"github.com/taskbeat/taskbeat/internal/registry"
	"github.com/taskbeat/taskbeat/internal/store"
)

func (s *rootState) openStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewPostgresStore(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to task store: %w", err)
	}
	return st, nil
}

func (s *rootState) openBroker() (broker.Gateway, error) {
	return s.openBrokerRedis()
}

func (s *rootState) openBrokerRedis() (*broker.RedisGateway, error) {
	gw, err := broker.NewRedisGateway(s.cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return gw, nil
}

func (s *rootState) openRegistry() (*registry.Registry, []error) {
	globalEnv := filepath.Join(s.cfg.PluginEnvsDir, registry.GlobalEnvFilename)
	reg := registry.New(s.cfg.PluginsDir, globalEnv, nil)
	errs := reg.Scan()
	return reg, errs
}

func (s *rootState) openInvoker() (*invoker.Invoker, *hotloader.Loader, error) {
	reg, errs := s.openRegistry()
	for _, err := range errs {
		s.log.WithError(err).Warn("plugin excluded from registry")
	}

	loader, err := hotloader.New(reg, logging.Component(s.log, "hotloader"))
	if err != nil {
		return nil, nil, fmt.Errorf("start hot loader: %w", err)
	}
	if err := loader.Watch(); err != nil {
		return nil, nil, fmt.Errorf("watch plugins dir: %w", err)
	}

	inv := invoker.New(reg, loader, logging.Component(s.log, "invoker"), 30*time.Second)
	return inv, loader, nil
}
