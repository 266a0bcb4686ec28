package contract

import "go.uber.org/fx"

var Module = fx.Module("contract.service",
	fx.Provide(NewService),
)
