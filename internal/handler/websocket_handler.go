// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendQueue    = 256
)

// WebSocketHandler streams instrument events to WebSocket clients
type WebSocketHandler struct {
	upgrader          websocket.Upgrader
	connections       *ConnectionManager
	instrumentService *service.InstrumentService
	eventBus          *service.EventBus
	logger            *utils.ServiceLogger

	// pumps counts the goroutines serving clients
	pumps sync.WaitGroup
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	instrumentService *service.InstrumentService,
	eventBus *service.EventBus,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return &WebSocketHandler{
		upgrader:          upgrader,
		connections:       NewConnectionManager(),
		instrumentService: instrumentService,
		eventBus:          eventBus,
		logger:            utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// HandleEventConnection streams the events of every instrument
// @Summary Event stream
// @Description WebSocket stream of every instrument event
// @Tags WebSocket
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.newClient(c, conn, "events", nil)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)
	h.serve(client)
}

// HandleInstrumentConnection streams the events of one instrument and
// accepts commands for it
// @Summary Instrument stream
// @Description WebSocket stream of one instrument's events
// @Tags WebSocket
// @Param name path string true "Instrument name"
// @Failure 404 {object} utils.APIResponse "Instrument not found"
// @Router /ws/instruments/{name} [get]
func (h *WebSocketHandler) HandleInstrumentConnection(c *gin.Context) {
	name := c.Param("name")
	inst, err := h.instrumentService.Get(name)
	if err != nil {
		failure(c, "Instrument not found", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.newClient(c, conn, "instrument", &name)
	h.logger.Info("Instrument WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("instrument", name),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_status",
		Data:      inst,
		Timestamp: time.Now(),
	})
	h.serve(client)
}

// Stats returns connection statistics
// @Summary WebSocket statistics
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats} "Statistics retrieved"
// @Router /ws/stats [get]
func (h *WebSocketHandler) Stats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", h.connections.GetStats())
}

func (h *WebSocketHandler) newClient(c *gin.Context, conn *websocket.Conn, kind string, instrument *string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, wsSendQueue),
		Type:        kind,
		Instrument:  instrument,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
}

// serve registers the client, subscribes it and starts its pumps
func (h *WebSocketHandler) serve(client *Client) {
	h.connections.Register(client)
	h.subscribe(client)

	h.spawn(func() { h.handleClientRead(client) })
	h.spawn(func() { h.handleClientWrite(client) })
}

func (h *WebSocketHandler) spawn(fn func()) {
	h.pumps.Add(1)
	go func() {
		defer h.pumps.Done()
		fn()
	}()
}

// Shutdown disconnects every client and waits until their goroutines have
// returned or ctx is done
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	for _, client := range h.connections.GetStats().Clients {
		client.Connection.Close()
	}

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("WebSocket clients stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket shutdown: %w", ctx.Err())
	}
}

// subscribe replaces the client subscription. The old forwarder stops when
// its channel is closed.
func (h *WebSocketHandler) subscribe(client *Client, types ...model.EventType) {
	instrument := ""
	if client.Instrument != nil {
		instrument = *client.Instrument
	}

	sub := h.eventBus.Subscribe(instrument, types...)
	if old := client.swapSubscription(sub); old != nil {
		h.eventBus.Unsubscribe(old)
	}
	h.spawn(func() { h.forward(client, sub) })
}

func (h *WebSocketHandler) forward(client *Client, sub *service.Subscription) {
	for event := range sub.C {
		h.sendMessage(client, &WebSocketMessage{
			Type:      "instrument_event",
			Data:      event,
			Timestamp: time.Now(),
		})
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		if sub := client.swapSubscription(nil); sub != nil {
			h.eventBus.Unsubscribe(sub)
		}
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		h.handleSubscription(client, message)
	case "command":
		h.handleCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			RequestID: message.RequestID,
			Timestamp: time.Now(),
		})
	default:
		h.sendError(client, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// handleSubscription narrows the stream to the listed event types; an empty
// list restores every type
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage) {
	var types []model.EventType
	if data, ok := message.Data.(map[string]interface{}); ok {
		if list, ok := data["event_types"].([]interface{}); ok {
			for _, t := range list {
				if s, ok := t.(string); ok {
					types = append(types, model.EventType(s))
				}
			}
		}
	}

	h.subscribe(client, types...)
	h.sendMessage(client, &WebSocketMessage{
		Type:      "subscription_confirmed",
		Data:      map[string]interface{}{"event_types": types},
		RequestID: message.RequestID,
		Timestamp: time.Now(),
	})
}

// handleCommand runs an operator command on an instrument connection
func (h *WebSocketHandler) handleCommand(client *Client, message *WebSocketMessage) {
	if client.Instrument == nil {
		h.sendError(client, "command only available on instrument connections")
		return
	}

	raw, err := json.Marshal(message.Data)
	if err != nil {
		h.sendError(client, "invalid command data")
		return
	}
	var cmd driver.Command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Name == "" {
		h.sendError(client, "command name is required")
		return
	}

	h.spawn(func() { h.executeCommand(client, *client.Instrument, &cmd, message.RequestID) })
}

func (h *WebSocketHandler) executeCommand(client *Client, name string, cmd *driver.Command, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := h.instrumentService.Execute(ctx, name, cmd, client.RemoteAddr)
	data := map[string]interface{}{
		"command": cmd.Name,
		"success": err == nil,
		"result":  result,
	}
	if err != nil {
		data["error"] = err.Error()
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now(),
	})

	if inst, err := h.instrumentService.Get(name); err == nil {
		h.broadcastToClients(h.connections.GetInstrumentClients(name), &WebSocketMessage{
			Type:      "instrument_status",
			Data:      inst,
			Timestamp: time.Now(),
		})
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !client.send(messageBytes) {
		h.logger.Debug("Dropping WebSocket message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

// broadcastToClients broadcasts message to specified clients
func (h *WebSocketHandler) broadcastToClients(clients []*Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range clients {
		if !client.send(messageBytes) {
			h.logger.Warn("Client send channel full during broadcast",
				zap.String("client_id", client.ID),
			)
		}
	}
}
