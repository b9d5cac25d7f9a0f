package serialport

import (
	"math"
	"time"

	"github.com/banshee-data/temperature.report/internal/protocol"
	"github.com/banshee-data/temperature.report/internal/timeutil"
)

// SimulatedPortName selects the built-in station simulator instead of a
// device when passed to a factory built with WithSimulator.
const SimulatedPortName = "SIM"

// StationResponder answers AIBUS and MODBUS read requests the way a bus of
// controllers would. read reports the temperature of the station at addr;
// returning false leaves the station silent.
func StationResponder(read func(addr uint8) (float64, bool)) Responder {
	return func(req []byte) []byte {
		for _, p := range []protocol.Protocol{protocol.Modbus, protocol.AIBUS} {
			addr, ok := protocol.RequestAddress(p, req)
			if !ok {
				continue
			}
			temp, ok := read(addr)
			if !ok {
				return nil
			}
			return protocol.EncodeResponse(p, addr, temp)
		}
		return nil
	}
}

// SimulatedTemperature is a slow per-station oscillation around room
// temperature, stable to one decimal place.
func SimulatedTemperature(clock timeutil.Clock) func(addr uint8) (float64, bool) {
	return func(addr uint8) (float64, bool) {
		phase := float64(clock.Now().UnixNano()) / float64(10*time.Minute)
		temp := 20 + float64(addr) + 5*math.Sin(2*math.Pi*phase+float64(addr))
		return math.Round(temp*10) / 10, true
	}
}

// WithSimulator wraps factory so that SimulatedPortName opens a simulated bus.
func WithSimulator(factory SerialPortFactory, clock timeutil.Clock) SerialPortFactory {
	return SerialPortOpener(func(path string, opts PortOptions) (SerialPorter, error) {
		if path == SimulatedPortName {
			return NewTestableSerialPort(StationResponder(SimulatedTemperature(clock))), nil
		}
		return factory.Open(path, opts)
	})
}
