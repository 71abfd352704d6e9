package qbr

import (
	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/connector/registry"
)

func init() {
	registry.RegisterSource("qbr", func(cfg *config.Config) (core.Source, error) {
		return NewQBRSource(), nil
	})
}
