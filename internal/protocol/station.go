package protocol

import "math"

// EncodeResponse builds the reply a healthy station at addr would send for a
// process value of temp. The remaining words are zero. It backs the station
// simulator and the link tests.
func EncodeResponse(p Protocol, addr uint8, temp float64) []byte {
	raw := uint16(int16(math.Round(temp * 10)))
	if p == Modbus {
		resp := []byte{addr, modbusReadHolding, 2 * modbusRegisterCount, byte(raw >> 8), byte(raw), 0, 0, 0, 0, 0, 0}
		crc := CRC16(resp)
		return append(resp, byte(crc), byte(crc>>8))
	}
	sum := raw + uint16(addr)
	return []byte{byte(raw), byte(raw >> 8), 0, 0, 0, 0, 0, 0, byte(sum), byte(sum >> 8)}
}

// RequestAddress extracts the station address from a request frame built by
// BuildRequest. ok is false for anything else.
func RequestAddress(p Protocol, req []byte) (addr uint8, ok bool) {
	if p == Modbus {
		if len(req) != 8 || req[1] != modbusReadHolding {
			return 0, false
		}
		crc := CRC16(req[:6])
		if req[6] != byte(crc) || req[7] != byte(crc>>8) {
			return 0, false
		}
		return req[0], true
	}
	if len(req) != 8 || req[0] < 0x80 || req[0] != req[1] || req[2] != aibusReadParam {
		return 0, false
	}
	return req[0] - 0x80, true
}
