package local

import (
	"context"

	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/statickg/pkg/etl/adapter/storage"
)

// Module provides the local StorageProvider and closes its connections on stop.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.As(new(storageAdapter.StorageProvider)),
	)),
	fx.Invoke(func(lc fx.Lifecycle, p storageAdapter.StorageProvider) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return p.CloseAll()
			},
		})
	}),
)
