package drepr

import (
	"go.uber.org/fx"

	"github.com/tigerroll/statickg/pkg/etl/core/service"
)

// Register registers the drepr service builder with the factory.
func Register(f *service.Factory) {
	f.RegisterBuilder(New, Classpath, Alias)
}

// Module registers the drepr service with the service factory.
var Module = fx.Invoke(Register)
