package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/statickg/pkg/etl/adapter/database"
	"github.com/tigerroll/statickg/pkg/etl/core/config"
)

// NewProviderFromConfig creates the Provider and closes its connections when the app stops.
func NewProviderFromConfig(lc fx.Lifecycle, cfg *config.Config) database.DBProvider {
	p := NewProvider(cfg.Statickg.System.Logging.SQLLevel)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.CloseAll()
		},
	})
	return p
}

// Module provides database.DBProvider.
var Module = fx.Options(
	fx.Provide(NewProviderFromConfig),
)
