package register_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"instrument-service/internal/checksum"
	"instrument-service/internal/protocol"
	"instrument-service/internal/protocol/prototest"
	"instrument-service/internal/register"
)

func rtu(b ...byte) []byte {
	return checksum.AppendCRC16(b)
}

func newClient(t *testing.T, replies map[string][]byte) (*register.Client, *prototest.Transport) {
	t.Helper()
	tr := prototest.Opened("/dev/ttyFAKE0", prototest.Table(replies))
	logger := zaptest.NewLogger(t)
	engine := protocol.NewEngine(tr, protocol.ModbusRTUCodec{}, logger,
		protocol.WithSilentPeriod(protocol.ModbusSilentPeriod(115200)))
	return register.NewClient(engine, 0x01, logger), tr
}

var (
	actualValue = register.Register{Name: "ACTUAL_VALUE", Address: 0x0032, Type: register.S16}
	maxFreq     = register.Register{Name: "MAX_FREQ", Address: 0x009D, Type: register.U16}
	tempInv     = register.Register{Name: "TEMP_INVERTER", Address: 0x0085, Type: register.S08}
	errorsH3    = register.Register{Name: "ERRORS_H3", Address: 0x012D, Type: register.B2}
	stopStart   = register.Register{Name: "STOP_START", Address: 0x0031, Type: register.U08}
	motorCurr   = register.Register{Name: "MOTOR_NOM_CURR", Address: 0x011A, Type: register.U32, ReportedByteCount: 8}
)

func TestDatumType_Shape(t *testing.T) {
	tests := []struct {
		typ      register.DatumType
		points   int
		bits     int
		signed   bool
		writable bool
	}{
		{register.U08, 1, 8, false, true},
		{register.U16, 1, 16, false, true},
		{register.U32, 2, 32, false, false},
		{register.S08, 1, 8, true, false},
		{register.S16, 1, 16, true, false},
		{register.B0, 1, 8, false, false},
		{register.B1, 1, 16, false, false},
		{register.B2, 2, 32, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.points, tt.typ.Points())
			assert.Equal(t, tt.points*2, tt.typ.Width())
			assert.Equal(t, tt.bits, tt.typ.Bits())
			assert.Equal(t, tt.signed, tt.typ.Signed())
			assert.Equal(t, tt.writable, tt.typ.Writable())

			parsed, err := register.ParseDatumType(tt.typ.String())
			require.NoError(t, err)
			assert.Equal(t, tt.typ, parsed)
		})
	}

	_, err := register.ParseDatumType("F32")
	assert.ErrorIs(t, err, protocol.ErrDatumTypeUnsupported)
}

func TestDatumType_Decode(t *testing.T) {
	assert.Equal(t, int64(-1), register.S16.Decode([]byte{0xFF, 0xFF}))
	assert.Equal(t, int64(65535), register.U16.Decode([]byte{0xFF, 0xFF}))
	assert.Equal(t, int64(-1), register.S08.Decode([]byte{0x00, 0xFF}))
	assert.Equal(t, int64(127), register.S08.Decode([]byte{0x00, 0x7F}))
	assert.Equal(t, int64(-128), register.S08.Decode([]byte{0x00, 0x80}))
	assert.Equal(t, int64(0x01020304), register.U32.Decode([]byte{0x01, 0x02, 0x03, 0x04}))
	assert.Equal(t, int64(0xFFFFFFFF), register.B2.Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.Equal(t, int64(0xABCD), register.B0.Decode([]byte{0xAB, 0xCD}))
	assert.Equal(t, int64(0x0105), register.U08.Decode([]byte{0x01, 0x05}))
}

func TestClient_ReadU08HighByte(t *testing.T) {
	level := register.Register{Name: "level", Address: 0x40, Type: register.U08}
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x40, 0x00, 0x01)): rtu(0x01, 0x03, 0x02, 0x01, 0x05),
	})

	v, ok := c.Read(context.Background(), level)
	require.True(t, ok)
	assert.Equal(t, int64(0x0105), v)
}

func TestClient_ReadSigned(t *testing.T) {
	c, tr := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x32, 0x00, 0x01)): rtu(0x01, 0x03, 0x02, 0xFF, 0xFF),
	})

	v, ok := c.Read(context.Background(), actualValue)
	require.True(t, ok)
	assert.Equal(t, int64(-1), v)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x32, 0x00, 0x01, 0x25, 0xC5}, tr.Writes()[0].Data)
}

func TestClient_ReadTwoPointRegister(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x01, 0x2D, 0x00, 0x02)): rtu(0x01, 0x03, 0x04, 0x00, 0x00, 0x08, 0x01),
	})

	v, err := c.ReadValue(context.Background(), errorsH3)
	require.NoError(t, err)
	assert.Equal(t, int64(0x0801), v)
}

func TestClient_ReadRejectsWrongByteCount(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x9D, 0x00, 0x01)): rtu(0x01, 0x03, 0x04, 0x01, 0xF4, 0x00, 0x00),
	})

	_, err := c.ReadValue(context.Background(), maxFreq)
	assert.ErrorIs(t, err, protocol.ErrFraming)

	v, ok := c.Read(context.Background(), maxFreq)
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestClient_ReadMisreportedByteCount(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x01, 0x1A, 0x00, 0x02)): rtu(0x01, 0x03, 0x08, 0x00, 0x00, 0x02, 0x26),
	})

	v, err := c.ReadValue(context.Background(), motorCurr)
	require.NoError(t, err)
	assert.Equal(t, int64(550), v)

	plain := motorCurr
	plain.ReportedByteCount = 0
	_, err = c.ReadValue(context.Background(), plain)
	assert.Error(t, err)
}

func TestClient_ReadWrongUnit(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x85, 0x00, 0x01)): rtu(0x02, 0x03, 0x02, 0x00, 0x1C),
	})

	_, err := c.ReadValue(context.Background(), tempInv)
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestClient_ReadException(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x85, 0x00, 0x01)): rtu(0x01, 0x83, 0x02),
	})

	_, err := c.ReadValue(context.Background(), tempInv)
	var devErr *protocol.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, 2, devErr.Code)
	assert.ErrorIs(t, err, protocol.ErrDeviceReported)
}

func TestClient_ReadTimeout(t *testing.T) {
	c, _ := newClient(t, nil)

	_, err := c.ReadValue(context.Background(), tempInv)
	assert.ErrorIs(t, err, protocol.ErrReadTimeout)

	_, ok := c.Read(context.Background(), tempInv)
	assert.False(t, ok)
}

func TestClient_Write(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x06, 0x00, 0x31, 0x00, 0x01)): rtu(0x01, 0x06, 0x00, 0x31, 0x00, 0x01),
	})

	v, ok := c.Write(context.Background(), stopStart, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestClient_WriteUnsupportedTypes(t *testing.T) {
	c, tr := newClient(t, nil)

	for _, r := range []register.Register{errorsH3, motorCurr, actualValue, tempInv} {
		_, err := c.WriteValue(context.Background(), r, 1)
		assert.ErrorIs(t, err, protocol.ErrDatumTypeUnsupported, r.String())
	}
	assert.Empty(t, tr.Writes())
}

func TestClient_WriteOutOfRange(t *testing.T) {
	c, tr := newClient(t, nil)

	_, err := c.WriteValue(context.Background(), stopStart, 256)
	assert.ErrorIs(t, err, register.ErrValueOutOfRange)
	_, err = c.WriteValue(context.Background(), maxFreq, -1)
	assert.ErrorIs(t, err, register.ErrValueOutOfRange)
	assert.Empty(t, tr.Writes())
}

func TestClient_WriteEchoMismatch(t *testing.T) {
	c, _ := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x06, 0x00, 0x31, 0x00, 0x01)): rtu(0x01, 0x06, 0x00, 0x32, 0x00, 0x01),
	})

	_, err := c.WriteValue(context.Background(), stopStart, 1)
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestClient_ReadAllAttemptsEveryRegister(t *testing.T) {
	c, tr := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x85, 0x00, 0x01)): rtu(0x01, 0x03, 0x02, 0x00, 0x1C),
		// 0x0032 stays silent
		string(rtu(0x01, 0x03, 0x00, 0x9D, 0x00, 0x01)): rtu(0x01, 0x03, 0x02, 0x01, 0xF4),
	})

	values, ok := c.ReadAll(context.Background(), tempInv, actualValue, maxFreq)
	assert.False(t, ok)
	assert.Len(t, tr.Writes(), 3)
	assert.Equal(t, map[string]int64{"TEMP_INVERTER": 28, "MAX_FREQ": 500}, values)
}

func TestAll(t *testing.T) {
	var calls int
	step := func(result bool) func() bool {
		return func() bool {
			calls++
			return result
		}
	}

	assert.True(t, register.All(step(true), step(true)))
	assert.False(t, register.All(step(false), step(true), step(true)))
	assert.Equal(t, 5, calls)
}

func TestClient_SilentPeriodBetweenTransactions(t *testing.T) {
	c, tr := newClient(t, map[string][]byte{
		string(rtu(0x01, 0x03, 0x00, 0x85, 0x00, 0x01)): rtu(0x01, 0x03, 0x02, 0x00, 0x1C),
	})

	c.Read(context.Background(), tempInv)
	c.Read(context.Background(), tempInv)

	writes := tr.Writes()
	require.Len(t, writes, 2)
	assert.GreaterOrEqual(t, writes[1].At.Sub(writes[0].At), protocol.ModbusSilentFloor)
}
