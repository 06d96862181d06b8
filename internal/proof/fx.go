package proof

import "go.uber.org/fx"

var Module = fx.Module("proof",
	fx.Provide(New),
)
