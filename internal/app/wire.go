//go:build wireinject

package app

import (
	"context"

	qcfg "quorum/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfg *qcfg.Config) (*App, error) {
	panic(wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	))
}
