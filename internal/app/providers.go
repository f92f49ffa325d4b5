package app

import (
	"context"

	qcfg "quorum/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppBuilder(cfg *qcfg.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}
