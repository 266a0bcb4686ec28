package milestone

import "go.uber.org/fx"

var Module = fx.Module("milestone.service",
	fx.Provide(NewService),
)
