// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
)

// DiscoveryHandler handles port discovery requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	registry         *internalDriver.Registry
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, registry *internalDriver.Registry, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		registry:         registry,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// ScanPorts enumerates the ports instruments may be attached to
// @Summary Scan ports
// @Description Enumerate serial ports, USB test and measurement devices and network endpoints
// @Tags Discovery
// @Produce json
// @Param type query string false "Scanner" default(all)
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]discovery.DiscoveredPort}} "Port scan completed"
// @Failure 400 {object} utils.APIResponse "Unknown scanner"
// @Router /discovery/ports [get]
func (h *DiscoveryHandler) ScanPorts(c *gin.Context) {
	scanType := c.DefaultQuery("type", "all")

	ports, err := h.discoveryService.ScanPorts(c.Request.Context(), scanType)
	if err != nil {
		h.logger.Error("Failed to scan ports", zap.String("type", scanType), zap.Error(err))
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to scan ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}

// GetScanners returns the available scanners
// @Summary List scanners
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{scanners=[]string}} "Scanners retrieved"
// @Router /discovery/scanners [get]
func (h *DiscoveryHandler) GetScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", gin.H{
		"scanners": h.discoveryService.Scanners(),
	})
}

// GetDrivers returns the registered instrument drivers
// @Summary List drivers
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{drivers=[]string}} "Drivers retrieved"
// @Router /discovery/drivers [get]
func (h *DiscoveryHandler) GetDrivers(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Drivers retrieved", gin.H{
		"drivers": h.registry.ListDrivers(),
	})
}
