package serialport

import (
	"sort"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the device at path. The returned port also implements
// TimeoutSerialPorter and InputResetter.
func (f *RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// fallbackPorts are always offered on the selection list so a Windows host
// with a not-yet-enumerated adapter still has something to choose.
var fallbackPorts = []string{"COM1", "COM2", "COM3", "COM4"}

// ListPorts returns the detected serial devices merged with the fallback
// names, sorted and de-duplicated.
func ListPorts() ([]string, error) {
	detected, err := serial.GetPortsList()
	if err != nil {
		return append([]string(nil), fallbackPorts...), err
	}
	return mergePorts(detected, fallbackPorts), nil
}

func mergePorts(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, p := range list {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
