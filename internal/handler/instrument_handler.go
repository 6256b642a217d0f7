// internal/handler/instrument_handler.go
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/repository"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// InstrumentHandler handles instrument HTTP requests
type InstrumentHandler struct {
	instrumentService *service.InstrumentService
	logger            *utils.ServiceLogger
}

// NewInstrumentHandler creates a new instrument handler
func NewInstrumentHandler(instrumentService *service.InstrumentService, logger *zap.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		instrumentService: instrumentService,
		logger:            utils.NewServiceLogger(logger, "instrument-handler"),
	}
}

// ConnectRequest optionally pins the connect attempt to one address
type ConnectRequest struct {
	Address string `json:"address"`
}

// RegisterWriteRequest is the body of a register write
type RegisterWriteRequest struct {
	Value *int64 `json:"value" binding:"required"`
}

// ListInstruments lists the configured instruments
// @Summary List instruments
// @Description List every configured instrument with its connection status
// @Tags Instruments
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{instruments=[]model.Instrument,total=int}} "Instruments retrieved"
// @Router /instruments [get]
func (h *InstrumentHandler) ListInstruments(c *gin.Context) {
	instruments := h.instrumentService.List()
	utils.SuccessResponse(c, http.StatusOK, "Instruments retrieved", gin.H{
		"instruments": instruments,
		"total":       len(instruments),
	})
}

// GetInstrument returns one instrument
// @Summary Get instrument
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=model.Instrument} "Instrument retrieved"
// @Failure 404 {object} utils.APIResponse "Instrument not found"
// @Router /instruments/{name} [get]
func (h *InstrumentHandler) GetInstrument(c *gin.Context) {
	inst, err := h.instrumentService.Get(c.Param("name"))
	if err != nil {
		failure(c, "Instrument not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Instrument retrieved", inst)
}

// ConnectInstrument connects an instrument
// @Summary Connect instrument
// @Description Connect at the given address, or try the last known port and scan the candidates
// @Tags Instruments
// @Accept json
// @Produce json
// @Param name path string true "Instrument name"
// @Param request body ConnectRequest false "Connect request"
// @Success 200 {object} utils.APIResponse{data=model.Instrument} "Instrument connected"
// @Failure 404 {object} utils.APIResponse "Instrument not found"
// @Failure 503 {object} utils.APIResponse "Instrument not found on any port"
// @Router /instruments/{name}/connect [post]
func (h *InstrumentHandler) ConnectInstrument(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	inst, err := h.instrumentService.Connect(c.Request.Context(), c.Param("name"), req.Address)
	if err != nil {
		h.logger.Warn("Connect failed", zap.String("instrument", c.Param("name")), zap.Error(err))
		failure(c, "Failed to connect instrument", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Instrument connected", inst)
}

// ScanInstrument scans the candidate ports for an instrument
// @Summary Scan for instrument
// @Description Ignore the last known port and scan every candidate
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=model.Instrument} "Instrument found"
// @Failure 503 {object} utils.APIResponse "Instrument not found on any port"
// @Router /instruments/{name}/scan [post]
func (h *InstrumentHandler) ScanInstrument(c *gin.Context) {
	inst, err := h.instrumentService.Scan(c.Request.Context(), c.Param("name"))
	if err != nil {
		failure(c, "Instrument not found on any port", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Instrument found", inst)
}

// DisconnectInstrument closes the instrument session
// @Summary Disconnect instrument
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse "Instrument disconnected"
// @Router /instruments/{name}/disconnect [post]
func (h *InstrumentHandler) DisconnectInstrument(c *gin.Context) {
	name := c.Param("name")
	if err := h.instrumentService.Disconnect(c.Request.Context(), name); err != nil {
		failure(c, "Failed to disconnect instrument", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Instrument disconnected", gin.H{"name": name})
}

// IsAlive reports whether the instrument session is alive
// @Summary Instrument liveness
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=object{alive=bool}} "Liveness retrieved"
// @Router /instruments/{name}/alive [get]
func (h *InstrumentHandler) IsAlive(c *gin.Context) {
	alive, err := h.instrumentService.Alive(c.Param("name"))
	if err != nil {
		failure(c, "Instrument not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Liveness retrieved", gin.H{"alive": alive})
}

// PollInstrument refreshes the instrument readings
// @Summary Poll instrument
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=service.PollResult} "Instrument polled"
// @Failure 409 {object} utils.APIResponse "Instrument not connected"
// @Router /instruments/{name}/poll [post]
func (h *InstrumentHandler) PollInstrument(c *gin.Context) {
	result, err := h.instrumentService.Poll(c.Request.Context(), c.Param("name"))
	if err != nil {
		failure(c, "Failed to poll instrument", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Instrument polled", result)
}

// BeginInstrument reruns the instrument initialisation
// @Summary Initialise instrument
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=object{initialised=bool}} "Initialisation finished"
// @Router /instruments/{name}/begin [post]
func (h *InstrumentHandler) BeginInstrument(c *gin.Context) {
	ok, err := h.instrumentService.Begin(c.Request.Context(), c.Param("name"))
	if err != nil {
		failure(c, "Failed to initialise instrument", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Initialisation finished", gin.H{"initialised": ok})
}

// QueryInstrument runs a raw query transaction
// @Summary Raw query
// @Description Send a command (text) or hex bytes through the instrument codec and return the reply
// @Tags Instruments
// @Accept json
// @Produce json
// @Param name path string true "Instrument name"
// @Param request body service.RawRequest true "Raw request"
// @Success 200 {object} utils.APIResponse{data=service.RawReply} "Query completed"
// @Failure 504 {object} utils.APIResponse "Device did not answer"
// @Router /instruments/{name}/query [post]
func (h *InstrumentHandler) QueryInstrument(c *gin.Context) {
	var req service.RawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reply, err := h.instrumentService.Query(c.Request.Context(), c.Param("name"), &req)
	if err != nil {
		failure(c, "Query failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Query completed", reply)
}

// WriteInstrument sends a raw message without reading a reply
// @Summary Raw write
// @Tags Instruments
// @Accept json
// @Produce json
// @Param name path string true "Instrument name"
// @Param request body service.RawRequest true "Raw request"
// @Success 200 {object} utils.APIResponse "Write completed"
// @Router /instruments/{name}/write [post]
func (h *InstrumentHandler) WriteInstrument(c *gin.Context) {
	var req service.RawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.instrumentService.Write(c.Request.Context(), c.Param("name"), &req); err != nil {
		failure(c, "Write failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Write completed", nil)
}

// ListCommands lists the operator commands of an instrument
// @Summary List commands
// @Tags Commands
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=object{commands=[]string}} "Commands retrieved"
// @Failure 501 {object} utils.APIResponse "Driver has no commands"
// @Router /instruments/{name}/commands [get]
func (h *InstrumentHandler) ListCommands(c *gin.Context) {
	commands, err := h.instrumentService.Commands(c.Param("name"))
	if err != nil {
		failure(c, "Failed to list commands", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Commands retrieved", gin.H{"commands": commands})
}

// ExecuteCommand runs an operator command
// @Summary Execute command
// @Tags Commands
// @Accept json
// @Produce json
// @Param name path string true "Instrument name"
// @Param request body driver.Command true "Command"
// @Success 200 {object} utils.APIResponse{data=driver.CommandResult} "Command executed"
// @Failure 400 {object} utils.APIResponse "Unknown command or invalid argument"
// @Failure 502 {object} utils.APIResponse "Device did not carry out the command"
// @Router /instruments/{name}/commands [post]
func (h *InstrumentHandler) ExecuteCommand(c *gin.Context) {
	var cmd driver.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.instrumentService.Execute(c.Request.Context(), c.Param("name"), &cmd, c.ClientIP())
	if err != nil {
		failure(c, "Command failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command executed", result)
}

// ListRegisters lists the registers an instrument maps
// @Summary List registers
// @Tags Registers
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse "Registers retrieved"
// @Failure 501 {object} utils.APIResponse "Driver is not register mapped"
// @Router /instruments/{name}/registers [get]
func (h *InstrumentHandler) ListRegisters(c *gin.Context) {
	regs, err := h.instrumentService.Registers(c.Param("name"))
	if err != nil {
		failure(c, "Failed to list registers", err)
		return
	}

	list := make([]gin.H, 0, len(regs))
	for _, r := range regs {
		list = append(list, gin.H{
			"name":     r.Name,
			"address":  r.Address,
			"type":     r.Type.String(),
			"writable": r.Type.Writable(),
		})
	}
	utils.SuccessResponse(c, http.StatusOK, "Registers retrieved", gin.H{"registers": list})
}

// ReadRegister reads one register
// @Summary Read register
// @Tags Registers
// @Produce json
// @Param name path string true "Instrument name"
// @Param address path string true "Register address, decimal or 0x hex"
// @Success 200 {object} utils.APIResponse{data=service.RegisterValue} "Register read"
// @Failure 404 {object} utils.APIResponse "Register not mapped"
// @Router /instruments/{name}/registers/{address} [get]
func (h *InstrumentHandler) ReadRegister(c *gin.Context) {
	address, ok := registerAddress(c)
	if !ok {
		return
	}

	value, err := h.instrumentService.ReadRegister(c.Request.Context(), c.Param("name"), address)
	if err != nil {
		failure(c, "Register read failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Register read", value)
}

// WriteRegister writes one register
// @Summary Write register
// @Tags Registers
// @Accept json
// @Produce json
// @Param name path string true "Instrument name"
// @Param address path string true "Register address, decimal or 0x hex"
// @Param request body RegisterWriteRequest true "Value"
// @Success 200 {object} utils.APIResponse{data=service.RegisterValue} "Register written"
// @Failure 400 {object} utils.APIResponse "Value out of range"
// @Router /instruments/{name}/registers/{address} [put]
func (h *InstrumentHandler) WriteRegister(c *gin.Context) {
	address, ok := registerAddress(c)
	if !ok {
		return
	}

	var req RegisterWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	value, err := h.instrumentService.WriteRegister(c.Request.Context(), c.Param("name"), address, *req.Value, c.ClientIP())
	if err != nil {
		failure(c, "Register write failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Register written", value)
}

func registerAddress(c *gin.Context) (uint16, bool) {
	address, err := strconv.ParseUint(c.Param("address"), 0, 16)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{
			"address": "must be a 16-bit register address",
		})
		return 0, false
	}
	return uint16(address), true
}

// GetErrors returns the collected device errors
// @Summary Device errors
// @Tags Errors
// @Produce json
// @Param name path string true "Instrument name"
// @Param drain query bool false "Read the device error queue first"
// @Success 200 {object} utils.APIResponse{data=object{errors=[]string}} "Errors retrieved"
// @Router /instruments/{name}/errors [get]
func (h *InstrumentHandler) GetErrors(c *gin.Context) {
	drain, _ := strconv.ParseBool(c.DefaultQuery("drain", "false"))

	errs, err := h.instrumentService.Errors(c.Request.Context(), c.Param("name"), drain)
	if err != nil {
		failure(c, "Failed to read errors", err)
		return
	}
	if errs == nil {
		errs = []string{}
	}
	utils.SuccessResponse(c, http.StatusOK, "Errors retrieved", gin.H{"errors": errs})
}

// AcknowledgeErrors clears the collected device errors
// @Summary Acknowledge device errors
// @Tags Errors
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=object{cleared=int}} "Errors acknowledged"
// @Router /instruments/{name}/errors [delete]
func (h *InstrumentHandler) AcknowledgeErrors(c *gin.Context) {
	cleared, err := h.instrumentService.AcknowledgeErrors(c.Request.Context(), c.Param("name"), c.ClientIP())
	if err != nil {
		failure(c, "Failed to acknowledge errors", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Errors acknowledged", gin.H{"cleared": cleared})
}

// GetStats returns the transaction statistics of an instrument
// @Summary Transaction statistics
// @Tags Instruments
// @Produce json
// @Param name path string true "Instrument name"
// @Success 200 {object} utils.APIResponse{data=protocol.EngineStats} "Statistics retrieved"
// @Router /instruments/{name}/stats [get]
func (h *InstrumentHandler) GetStats(c *gin.Context) {
	stats, err := h.instrumentService.Stats(c.Param("name"))
	if err != nil {
		failure(c, "Statistics unavailable", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", stats)
}

// ListEvents lists stored instrument events
// @Summary List events
// @Tags Events
// @Produce json
// @Param instrument query string false "Instrument name"
// @Param type query string false "Event type" Enums(INSTRUMENT_CONNECTED, INSTRUMENT_DISCONNECTED, INSTRUMENT_FAULT, READING, DEVICE_ERRORS, COMMAND)
// @Param since query string false "RFC 3339 time"
// @Param limit query int false "Maximum events" default(100)
// @Success 200 {object} utils.APIResponse{data=object{events=[]model.InstrumentEvent,total=int}} "Events retrieved"
// @Router /events [get]
func (h *InstrumentHandler) ListEvents(c *gin.Context) {
	filter := &repository.EventFilter{}
	validation := map[string]string{}

	if name := c.Query("instrument"); name != "" {
		filter.Instrument = &name
	}
	if t := c.Query("type"); t != "" {
		eventType := model.EventType(t)
		filter.EventType = &eventType
	}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			validation["since"] = "must be an RFC 3339 time"
		} else {
			filter.Since = &since
		}
	}
	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			validation["limit"] = "must be a positive integer"
		}
		filter.Limit = limit
	}
	if len(validation) > 0 {
		utils.ValidationErrorResponse(c, validation)
		return
	}

	events, err := h.instrumentService.Events(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		failure(c, "Failed to list events", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Events retrieved", gin.H{
		"events": events,
		"total":  len(events),
	})
}
