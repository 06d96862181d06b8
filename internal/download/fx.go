package download

import (
	"context"

	"github.com/smallbiznis/hwlicense/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("download",
	fx.Provide(
		fx.Annotate(newPresigner, fx.As(new(Presigner))),
		NewService,
	),
)

func newPresigner(cfg config.Config) (*S3Presigner, error) {
	return NewS3Presigner(context.Background(), cfg.Storage)
}
