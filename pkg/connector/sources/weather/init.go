package weather

import (
	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/connector/registry"
)

func init() {
	registry.RegisterSource("weather", func(cfg *config.Config) (core.Source, error) {
		return NewWeatherSource(), nil
	})
}
