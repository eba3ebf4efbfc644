package copy

import (
	"go.uber.org/fx"

	"github.com/tigerroll/statickg/pkg/etl/core/service"
)

// Register registers the copy service builder with the factory.
func Register(f *service.Factory) {
	f.RegisterBuilder(New, Classpath, Alias)
}

// Module registers the copy service with the service factory.
var Module = fx.Invoke(Register)
