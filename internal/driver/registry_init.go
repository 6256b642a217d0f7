// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"instrument-service/internal/driver/hydrovar"
	"instrument-service/internal/driver/mdrive"
	"instrument-service/internal/driver/pt104"
	"instrument-service/internal/driver/scpi"
	"instrument-service/internal/driver/thermoflex"
)

// RegisterDefaultDrivers registers the built-in instrument drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registry.Register(hydrovar.DriverName, hydrovar.New)
	registry.Register(thermoflex.DriverName, thermoflex.New)
	registry.Register(mdrive.DriverName, mdrive.New)
	registry.Register(pt104.DriverName, pt104.New)
	registry.Register(scpi.DriverName, scpi.New)

	logger.Info("Instrument drivers registered", zap.Strings("drivers", registry.ListDrivers()))
}
