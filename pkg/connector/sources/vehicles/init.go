package vehicles

import (
	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/connector/registry"
)

func init() {
	registry.RegisterSource("vehicles", func(cfg *config.Config) (core.Source, error) {
		return NewVehiclesSource(), nil
	})
}
