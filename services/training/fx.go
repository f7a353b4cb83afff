package training

import (
	"go.uber.org/fx"
)

var Module = fx.Module("training.service",
	ProviderModule,
	fx.Provide(NewService),
)
