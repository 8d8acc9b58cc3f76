package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/pavelanni/analytics/internal/handler"
	"github.com/pavelanni/analytics/internal/metrics"
	"github.com/pavelanni/analytics/internal/store"
)

// backend is what every command needs from a metrics store.
type backend interface {
	metrics.MetricsStore
	metrics.ContractStore
	handler.Cache
	store.Lister
	Close() error
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*store.RedisStore)(nil)
)

func openStore(v *viper.Viper) (backend, error) {
	switch kind := strings.ToLower(v.GetString("store")); kind {
	case "", "sqlite":
		st, err := store.New(v.GetString("db"))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		slog.Debug("using sqlite store", "path", v.GetString("db"))
		return st, nil
	case "redis":
		st, err := store.NewRedisStore(v.GetString("redis-addr"), v.GetString("redis-prefix"))
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		slog.Debug("using redis store", "addr", v.GetString("redis-addr"), "prefix", v.GetString("redis-prefix"))
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or redis)", kind)
	}
}
