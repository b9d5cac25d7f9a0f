package protocol

import (
	"errors"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceCRC is the bit-at-a-time MODBUS CRC used to check the table
// implementation.
func referenceCRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func TestAIBUSRequest_AllAddresses(t *testing.T) {
	for addr := 0; addr <= 126; addr++ {
		frame := BuildRequest(AIBUS, uint8(addr))
		require.Len(t, frame, 8, "addr %d", addr)

		h := byte(0x80 + addr)
		chk := (0x52 + addr) % 65536
		want := []byte{h, h, 0x52, 0x00, 0x00, 0x00, byte(chk & 0xFF), byte(chk >> 8)}
		if diff := cmp.Diff(want, frame); diff != "" {
			t.Errorf("addr %d frame mismatch (-want +got):\n%s", addr, diff)
		}
	}
}

func TestModbusRequest_KnownVector(t *testing.T) {
	got := BuildRequest(Modbus, 1)
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x04, 0x44, 0x09}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint16(0x0944), CRC16([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x04}))
}

func TestCRC16_MatchesReference(t *testing.T) {
	vectors := [][]byte{
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x04},
		{0x02, 0x03, 0x00, 0x00, 0x00, 0x04},
		{0xF7, 0x03, 0x00, 0x00, 0x00, 0x04},
		{0x11, 0x06, 0x00, 0x01, 0x00, 0x03},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	}
	for _, v := range vectors {
		assert.Equal(t, referenceCRC(v), CRC16(v), "vector % x", v)
	}
	assert.Equal(t, uint16(0x3A44), CRC16([]byte{0x02, 0x03, 0x00, 0x00, 0x00, 0x04}))
}

func TestModbusRequest_MatchesRTUPackager(t *testing.T) {
	handler := modbus.NewRTUClientHandler("/dev/null")
	for addr := 1; addr <= 247; addr++ {
		handler.SlaveId = byte(addr)
		adu, err := handler.Encode(&modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x00, 0x00, 0x00, 0x04},
		})
		require.NoError(t, err)
		assert.Equal(t, adu, BuildRequest(Modbus, uint8(addr)), "addr %d", addr)
	}
}

func TestParseResponse_AIBUS(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
		want float64
	}{
		{"positive", []byte{0x64, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}, 10.0},
		{"negative", []byte{0xF0, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0}, -1.6},
		{"zero", make([]byte, 10), 0},
		{"max", []byte{0xFF, 0x7F, 0, 0, 0, 0, 0, 0, 0, 0}, 3276.7},
		{"min", []byte{0x00, 0x80, 0, 0, 0, 0, 0, 0, 0, 0}, -3276.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(AIBUS, tt.resp)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseResponse_Modbus(t *testing.T) {
	resp := []byte{0x01, 0x03, 0x08, 0x01, 0x2C, 0, 0, 0, 0, 0, 0, 0, 0}
	got, err := ParseResponse(Modbus, resp)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got, 1e-9)

	resp[3], resp[4] = 0xFF, 0xF0
	got, err = ParseResponse(Modbus, resp)
	require.NoError(t, err)
	assert.InDelta(t, -1.6, got, 1e-9)
}

func TestParseResponse_WrongLength(t *testing.T) {
	for _, p := range []Protocol{AIBUS, Modbus} {
		want := ResponseLength(p)
		for n := 0; n < want; n++ {
			got, err := ParseResponse(p, make([]byte, n))
			assert.ErrorIs(t, err, ErrFrameTooShort, "%s len %d", p, n)
			assert.Equal(t, Sentinel, got)
		}
		got, err := ParseResponse(p, make([]byte, want+1))
		assert.ErrorIs(t, err, ErrFrameTooLong)
		assert.Equal(t, Sentinel, got)
	}
	_, err := ParseResponse(AIBUS, nil)
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func modbusResponse(addr uint8, raw uint16) []byte {
	resp := []byte{addr, 0x03, 0x08, byte(raw >> 8), byte(raw), 0, 0, 0, 0, 0, 0}
	crc := referenceCRC(resp)
	return append(resp, byte(crc), byte(crc>>8))
}

func TestVerifyResponse_Modbus(t *testing.T) {
	resp := modbusResponse(3, 0x00FA)
	require.NoError(t, VerifyResponse(Modbus, 3, resp))

	// the RTU packager agrees the frame is intact
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 3
	pdu, err := handler.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), pdu.FunctionCode)

	corrupt := append([]byte(nil), resp...)
	corrupt[4] ^= 0x01
	assert.True(t, errors.Is(VerifyResponse(Modbus, 3, corrupt), ErrChecksum))

	assert.ErrorIs(t, VerifyResponse(Modbus, 4, resp), ErrBadHeader)
	assert.ErrorIs(t, VerifyResponse(Modbus, 3, resp[:12]), ErrFrameTooShort)
}

func TestVerifyResponse_AIBUS(t *testing.T) {
	resp := []byte{0x64, 0x00, 0xC8, 0x00, 0x05, 0x00, 0x01, 0x00, 0, 0}
	sum := uint16(0x64+0xC8+0x05+0x01) + 7
	resp[8], resp[9] = byte(sum), byte(sum>>8)
	require.NoError(t, VerifyResponse(AIBUS, 7, resp))
	assert.ErrorIs(t, VerifyResponse(AIBUS, 8, resp), ErrChecksum)
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{"AIBUS": AIBUS, "aibus": AIBUS, " MODBUS ": Modbus, "rtu": Modbus} {
		got, err := ParseProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProtocol("profibus")
	assert.ErrorIs(t, err, ErrUnknown)

	var p Protocol
	require.NoError(t, p.UnmarshalText([]byte("modbus")))
	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "MODBUS", string(text))
}

func TestValidAddress(t *testing.T) {
	assert.NoError(t, ValidAddress(AIBUS, 0))
	assert.NoError(t, ValidAddress(AIBUS, 126))
	assert.Error(t, ValidAddress(AIBUS, 127))
	assert.Error(t, ValidAddress(Modbus, 0))
	assert.NoError(t, ValidAddress(Modbus, 247))
	assert.Error(t, ValidAddress(Modbus, 248))
}

func TestEncodeResponse_RoundTrip(t *testing.T) {
	for _, p := range []Protocol{AIBUS, Modbus} {
		for _, temp := range []float64{25.3, -1.6, 0, 1200.0} {
			resp := EncodeResponse(p, 5, temp)
			require.Len(t, resp, ResponseLength(p))
			require.NoError(t, VerifyResponse(p, 5, resp), "%s %v", p, temp)
			got, err := ParseResponse(p, resp)
			require.NoError(t, err)
			assert.InDelta(t, temp, got, 1e-9)
		}
	}
}

func TestRequestAddress(t *testing.T) {
	for _, p := range []Protocol{AIBUS, Modbus} {
		addr, ok := RequestAddress(p, BuildRequest(p, 17))
		require.True(t, ok, p.String())
		assert.Equal(t, uint8(17), addr)
	}
	_, ok := RequestAddress(Modbus, BuildRequest(AIBUS, 1))
	assert.False(t, ok)
	_, ok = RequestAddress(AIBUS, []byte{0x81})
	assert.False(t, ok)
}
