package credits

import (
	"go.uber.org/fx"
)

var Module = fx.Module("credits.service",
	fx.Provide(NewService),
)
