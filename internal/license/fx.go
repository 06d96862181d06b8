package license

import (
	"github.com/smallbiznis/hwlicense/internal/license/repository"
	"github.com/smallbiznis/hwlicense/internal/license/service"
	"go.uber.org/fx"
)

var Module = fx.Module("license.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
