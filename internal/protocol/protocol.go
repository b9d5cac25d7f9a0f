// Package protocol builds request frames and parses response frames for the
// two serial protocols spoken by the temperature controllers: AIBUS and a
// MODBUS-RTU read of four holding registers. Everything here is pure; the
// serialport package owns the I/O.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel is the temperature stored for a failed read. It sits outside the
// range any supported instrument can report.
const Sentinel = -100.0

var (
	ErrFrameTooShort = errors.New("response frame too short")
	ErrFrameTooLong  = errors.New("response frame too long")
	ErrChecksum      = errors.New("response checksum mismatch")
	ErrBadHeader     = errors.New("unexpected response header")
	ErrUnknown       = errors.New("unknown protocol")
)

// Protocol selects the wire format used for every transaction on the link.
type Protocol int

const (
	AIBUS Protocol = iota
	Modbus
)

func (p Protocol) String() string {
	switch p {
	case AIBUS:
		return "AIBUS"
	case Modbus:
		return "MODBUS"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// ParseProtocol accepts the names produced by String, case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AIBUS", "AI-BUS":
		return AIBUS, nil
	case "MODBUS", "MODBUS-RTU", "RTU":
		return Modbus, nil
	default:
		return 0, fmt.Errorf("%w: %q (expected AIBUS or MODBUS)", ErrUnknown, s)
	}
}

// MarshalText lets Protocol appear as a string in JSON and YAML.
func (p Protocol) MarshalText() ([]byte, error) {
	switch p {
	case AIBUS, Modbus:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknown, int(p))
	}
}

func (p *Protocol) UnmarshalText(b []byte) error {
	parsed, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ResponseLength is the number of bytes a well-formed response carries.
func ResponseLength(p Protocol) int {
	if p == Modbus {
		return modbusResponseLen
	}
	return aibusResponseLen
}

// ValidAddress reports whether addr is a usable station address for p.
func ValidAddress(p Protocol, addr int) error {
	switch p {
	case AIBUS:
		if addr < 0 || addr > maxAIBUSAddr {
			return fmt.Errorf("AIBUS address %d out of range 0-%d", addr, maxAIBUSAddr)
		}
	case Modbus:
		if addr < 1 || addr > maxModbusAddr {
			return fmt.Errorf("MODBUS address %d out of range 1-%d", addr, maxModbusAddr)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknown, int(p))
	}
	return nil
}

// BuildRequest returns the read-temperature request for the station at addr.
func BuildRequest(p Protocol, addr uint8) []byte {
	if p == Modbus {
		return buildModbusRequest(addr)
	}
	return buildAIBUSRequest(addr)
}

// ParseResponse decodes the process value from a response frame. Content is
// not validated here; a corrupted frame of the right length decodes to an
// implausible temperature. Use VerifyResponse for strict checking.
func ParseResponse(p Protocol, resp []byte) (float64, error) {
	want := ResponseLength(p)
	switch {
	case len(resp) < want:
		return Sentinel, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameTooShort, len(resp), want)
	case len(resp) > want:
		return Sentinel, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameTooLong, len(resp), want)
	}

	var raw uint16
	if p == Modbus {
		raw = uint16(resp[3])<<8 | uint16(resp[4])
	} else {
		raw = uint16(resp[0]) | uint16(resp[1])<<8
	}
	return Decode(raw), nil
}

// Decode converts a raw 16-bit register into degrees with one decimal place.
func Decode(raw uint16) float64 {
	return float64(int16(raw)) / 10.0
}

// VerifyResponse performs the integrity checks ParseResponse skips.
func VerifyResponse(p Protocol, addr uint8, resp []byte) error {
	if len(resp) != ResponseLength(p) {
		if len(resp) < ResponseLength(p) {
			return ErrFrameTooShort
		}
		return ErrFrameTooLong
	}
	if p == Modbus {
		return verifyModbusResponse(addr, resp)
	}
	return verifyAIBUSResponse(addr, resp)
}
