package config

import (
	"sync"

	"github.com/banshee-data/temperature.report/internal/protocol"
)

// Settings are the inputs one polling cycle runs with.
type Settings struct {
	Port        string            `json:"port"`
	Protocol    protocol.Protocol `json:"protocol"`
	Instruments []Instrument      `json:"instruments"`
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.Instruments = append([]Instrument(nil), s.Instruments...)
	return out
}

// Live holds the current Settings. Writers are API handlers; the poller
// reads one Snapshot per cycle so a change never lands mid-cycle.
type Live struct {
	mu sync.RWMutex
	s  Settings
}

func NewLive(s Settings) *Live {
	return &Live{s: s.Clone()}
}

// Snapshot returns a copy the caller may keep.
func (l *Live) Snapshot() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.Clone()
}

// SetSerial selects the port and protocol. The instrument addresses must be
// valid for the new protocol.
func (l *Live) SetSerial(port string, p protocol.Protocol) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ValidateInstruments(l.s.Instruments, p); err != nil {
		return err
	}
	l.s.Port = port
	l.s.Protocol = p
	return nil
}

// SetInstruments replaces the instrument list after validating it.
func (l *Live) SetInstruments(list []Instrument) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ValidateInstruments(list, l.s.Protocol); err != nil {
		return err
	}
	l.s.Instruments = append([]Instrument(nil), list...)
	return nil
}
