package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/protocol/prototest"
	"instrument-service/internal/repository"
	"instrument-service/internal/service"
	"instrument-service/internal/store"
	"instrument-service/pkg/driver"
)

const benchAddress = "10.0.0.5:5025"

// bench answers the SCPI common commands and keeps an error queue
type bench struct {
	mu     sync.Mutex
	errors []string
}

func (b *bench) respond(data []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch cmd := strings.TrimSuffix(string(data), "\n"); cmd {
	case "*IDN?":
		return []byte("ACME,BENCH1,SN42,1.0\n")
	case "*OPC?":
		return []byte("1\n")
	case "*CLS":
		return nil
	case "SYST:ERR?":
		if len(b.errors) == 0 {
			return []byte("+0,\"No error\"\n")
		}
		e := b.errors[0]
		b.errors = b.errors[1:]
		return []byte(e + "\n")
	default:
		b.errors = append(b.errors, "-113,\"Undefined header\"")
		return nil
	}
}

type apiResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		App: config.AppConfig{
			Name:             "instrument-service",
			Version:          "test",
			Environment:      "test",
			OperationTimeout: 2 * time.Second,
			ScanTimeout:      2 * time.Second,
		},
		Instruments: []config.InstrumentConfig{{
			Name:       "psu",
			Driver:     "scpi",
			Connection: "tcp",
			Addresses:  []string{benchAddress},
			Serial:     config.SerialPortConfig{ReadTimeout: 100 * time.Millisecond},
			Options:    map[string]interface{}{"power_supply": false},
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events := repository.NewMemoryEventRepository(100)
	bus := service.NewEventBus(events, logger)
	go bus.Start(ctx)

	registry := internalDriver.NewRegistry(logger)
	internalDriver.RegisterDefaultDrivers(registry, logger)

	sm := discovery.NewScannerManager(logger)
	sm.RegisterScanner(&discovery.StaticScanner{Name: "bench", Kind: model.ConnectionTypeTCP, Addresses: []string{benchAddress}})
	discoveryService := service.NewDiscoveryServiceWith(sm, cfg, logger)

	b := &bench{}
	deps := driver.Deps{
		Lister: discoveryService.Lister(),
		Factory: func(_ model.ConnectionType, address string, _ protocol.Settings, _ *zap.Logger) (protocol.Transport, error) {
			if address != benchAddress {
				return nil, protocol.ErrTransportOpen
			}
			tr := prototest.New(address, b.respond)
			tr.SetKind(model.ConnectionTypeTCP)
			return tr, nil
		},
	}

	instrumentService, err := service.NewInstrumentService(cfg, registry, deps, store.NewMemoryStore(), bus, events, logger)
	require.NoError(t, err)

	router := NewRouter(cfg, logger, nil, instrumentService, discoveryService, registry, bus)
	engine := router.SetupRouter()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, router.Shutdown(ctx))
	})
	return engine
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestInstrumentRoutes(t *testing.T) {
	r := newTestRouter(t)

	w, resp := do(t, r, http.MethodGet, "/api/v1/instruments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp.Data["total"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), resp.RequestID)

	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/instruments/psu/query", map[string]string{"command": "*IDN?"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = do(t, r, http.MethodPost, "/api/v1/instruments/psu/connect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ONLINE", resp.Data["status"])
	assert.Equal(t, benchAddress, resp.Data["address"])

	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/psu/alive", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data["alive"])

	w, resp = do(t, r, http.MethodPost, "/api/v1/instruments/psu/query", map[string]string{"command": "*IDN?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACME,BENCH1,SN42,1.0", resp.Data["text"])

	w, _ = do(t, r, http.MethodPost, "/api/v1/instruments/psu/query", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(t, r, http.MethodPost, "/api/v1/instruments/psu/query", map[string]string{"command": "MEAS:VOLT?"})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "DEVICE_TIMEOUT", resp.Error.Code)

	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/psu/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp.Data["timeouts"])

	w, _ = do(t, r, http.MethodPost, "/api/v1/instruments/psu/disconnect", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/psu", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OFFLINE", resp.Data["status"])
}

func TestCommandAndRegisterRoutes(t *testing.T) {
	r := newTestRouter(t)
	w, _ := do(t, r, http.MethodPost, "/api/v1/instruments/psu/connect", map[string]string{"address": benchAddress})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := do(t, r, http.MethodGet, "/api/v1/instruments/psu/commands", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp.Data["commands"], "query")

	w, resp = do(t, r, http.MethodPost, "/api/v1/instruments/psu/commands", map[string]interface{}{
		"name": "query",
		"args": map[string]interface{}{"command": "*OPC?"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp.Data["data"].(map[string]interface{})
	assert.Equal(t, "1", data["reply"])

	w, _ = do(t, r, http.MethodPost, "/api/v1/instruments/psu/commands", map[string]interface{}{
		"name": "set_voltage",
		"args": map[string]interface{}{"value": 5},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/instruments/psu/commands", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/psu/registers", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", resp.Error.Code)

	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/psu/registers/zz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/instruments/psu/registers/0x0030", map[string]int{"value": 1})
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/instruments/psu/registers/0x0030", map[string]int{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorQueueRoutes(t *testing.T) {
	r := newTestRouter(t)
	w, _ := do(t, r, http.MethodPost, "/api/v1/instruments/psu/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/instruments/psu/write", map[string]string{"command": "BOGUS"})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := do(t, r, http.MethodGet, "/api/v1/instruments/psu/errors?drain=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"-113,\"Undefined header\""}, resp.Data["errors"])

	w, resp = do(t, r, http.MethodDelete, "/api/v1/instruments/psu/errors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp.Data["cleared"])

	w, resp = do(t, r, http.MethodGet, "/api/v1/instruments/psu/errors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Data["errors"])
}

func TestEventRoutes(t *testing.T) {
	r := newTestRouter(t)
	w, _ := do(t, r, http.MethodPost, "/api/v1/instruments/psu/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w, resp := do(t, r, http.MethodGet, "/api/v1/events?instrument=psu&type=INSTRUMENT_CONNECTED", nil)
		return w.Code == http.StatusOK && resp.Data["total"] == float64(1)
	}, 2*time.Second, 20*time.Millisecond)

	w, resp := do(t, r, http.MethodGet, "/api/v1/events?since=yesterday&limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Data["validation_errors"], "since")
	assert.Contains(t, resp.Data["validation_errors"], "limit")
}

func TestDiscoveryAndHealthRoutes(t *testing.T) {
	r := newTestRouter(t)

	w, resp := do(t, r, http.MethodGet, "/api/v1/discovery/drivers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp.Data["drivers"], "scpi")
	assert.Contains(t, resp.Data["drivers"], "hydrovar")

	w, resp = do(t, r, http.MethodGet, "/api/v1/discovery/scanners", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"bench"}, resp.Data["scanners"])

	w, resp = do(t, r, http.MethodGet, "/api/v1/discovery/ports?type=bench", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp.Data["ports_found"])

	w, _ = do(t, r, http.MethodGet, "/api/v1/discovery/ports?type=bluetooth", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "degraded", health.Checks["instruments"].Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebSocketInstrumentStream(t *testing.T) {
	r := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/instruments/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/instruments/psu"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func(wantType string) map[string]interface{} {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			var msg struct {
				Type string                 `json:"type"`
				Data map[string]interface{} `json:"data"`
			}
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type == wantType {
				return msg.Data
			}
		}
	}

	assert.Equal(t, "psu", read("initial_status")["name"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"event_types": []string{"INSTRUMENT_CONNECTED"}},
	}))
	read("subscription_confirmed")

	w, _ := do(t, r, http.MethodPost, "/api/v1/instruments/psu/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)

	event := read("instrument_event")
	assert.Equal(t, "INSTRUMENT_CONNECTED", event["event_type"])
	assert.Equal(t, "psu", event["instrument"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "command",
		"data": map[string]interface{}{"name": "query", "args": map[string]string{"command": "*IDN?"}},
	}))
	reply := read("command_response")
	assert.Equal(t, true, reply["success"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	read("pong")

	clients := func() int {
		w, resp := do(t, r, http.MethodGet, "/ws/stats", nil)
		if w.Code != http.StatusOK {
			return -1
		}
		n, _ := resp.Data["total_connections"].(float64)
		return int(n)
	}
	assert.Equal(t, 1, clients())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
