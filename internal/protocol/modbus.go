package protocol

import (
	"fmt"

	"github.com/sigurn/crc16"
)

const (
	modbusResponseLen   = 13
	modbusReadHolding   = 0x03
	modbusRegisterCount = 4
	maxModbusAddr       = 247
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 is the MODBUS RTU checksum: reflected polynomial 0xA001 seeded with
// 0xFFFF. Frames carry it low byte first.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// buildModbusRequest reads four holding registers starting at register 0.
func buildModbusRequest(addr uint8) []byte {
	frame := []byte{addr, modbusReadHolding, 0x00, 0x00, 0x00, modbusRegisterCount}
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// The response is address, function, byte count (8), four registers and CRC.
func verifyModbusResponse(addr uint8, resp []byte) error {
	if resp[0] != addr || resp[1] != modbusReadHolding || resp[2] != 2*modbusRegisterCount {
		return fmt.Errorf("%w: MODBUS % x", ErrBadHeader, resp[:3])
	}
	n := len(resp) - 2
	want := CRC16(resp[:n])
	got := uint16(resp[n]) | uint16(resp[n+1])<<8
	if got != want {
		return fmt.Errorf("%w: MODBUS got %#04x, want %#04x", ErrChecksum, got, want)
	}
	return nil
}
