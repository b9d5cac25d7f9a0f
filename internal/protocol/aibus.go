package protocol

import "fmt"

const (
	aibusResponseLen = 10
	aibusReadParam   = 0x52
	maxAIBUSAddr     = 126
)

// buildAIBUSRequest encodes a "read parameter 0" command. The station address
// appears twice offset by 0x80, followed by the command, parameter index,
// two zero data bytes and the additive checksum low byte first.
func buildAIBUSRequest(addr uint8) []byte {
	header := 0x80 + addr
	chk := AIBUSChecksum(addr)
	return []byte{
		header, header,
		aibusReadParam, 0x00,
		0x00, 0x00,
		byte(chk), byte(chk >> 8),
	}
}

// AIBUSChecksum is the request checksum for a read of parameter 0.
func AIBUSChecksum(addr uint8) uint16 {
	return uint16(aibusReadParam) + uint16(addr)
}

// The response is PV, SV, MV+alarm and the parameter value as little-endian
// words, then a checksum equal to their sum plus the station address.
func verifyAIBUSResponse(addr uint8, resp []byte) error {
	var sum uint16
	for i := 0; i < 8; i += 2 {
		sum += uint16(resp[i]) | uint16(resp[i+1])<<8
	}
	sum += uint16(addr)
	got := uint16(resp[8]) | uint16(resp[9])<<8
	if got != sum {
		return fmt.Errorf("%w: AIBUS got %#04x, want %#04x", ErrChecksum, got, sum)
	}
	return nil
}
