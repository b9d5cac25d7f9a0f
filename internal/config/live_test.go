package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/temperature.report/internal/protocol"
)

func TestLive_SnapshotIsIsolated(t *testing.T) {
	live := NewLive(Settings{Port: "COM3", Protocol: protocol.AIBUS, Instruments: DefaultInstruments()})

	snap := live.Snapshot()
	snap.Instruments[0].Addr = 99
	snap.Port = "COM9"

	again := live.Snapshot()
	assert.Equal(t, 1, again.Instruments[0].Addr)
	assert.Equal(t, "COM3", again.Port)
}

func TestLive_SetSerial(t *testing.T) {
	live := NewLive(Settings{Instruments: []Instrument{{Name: "zero", Addr: 0}}})

	// address 0 is not a MODBUS station
	err := live.SetSerial("COM1", protocol.Modbus)
	assert.Error(t, err)
	assert.Equal(t, "", live.Snapshot().Port)

	require.NoError(t, live.SetSerial("COM1", protocol.AIBUS))
	assert.Equal(t, "COM1", live.Snapshot().Port)
}

func TestLive_SetInstruments(t *testing.T) {
	live := NewLive(Settings{Protocol: protocol.Modbus})

	list := []Instrument{{Name: "a", Addr: 5}}
	require.NoError(t, live.SetInstruments(list))
	list[0].Addr = 6
	assert.Equal(t, 5, live.Snapshot().Instruments[0].Addr)

	assert.Error(t, live.SetInstruments([]Instrument{{Name: "a", Addr: 248}}))
	assert.Equal(t, 5, live.Snapshot().Instruments[0].Addr)
}

func TestLive_ConcurrentAccess(t *testing.T) {
	live := NewLive(Settings{Instruments: DefaultInstruments()})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = live.SetInstruments([]Instrument{{Name: "x", Addr: i + 1}})
		}(i)
		go func() {
			defer wg.Done()
			s := live.Snapshot()
			assert.Len(t, s.Instruments, 1)
		}()
	}
	wg.Wait()
}
