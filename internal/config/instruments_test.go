package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/temperature.report/internal/protocol"
)

func TestLoadInstruments_MissingFileGivesDefault(t *testing.T) {
	list, err := LoadInstruments(filepath.Join(t.TempDir(), "instruments_config.json"))
	require.NoError(t, err)
	want := []Instrument{{Name: "Instrument 1", Addr: 1, Color: "#ff0000"}}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("LoadInstruments mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInstruments_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments_config.json")
	data := `[
  {"name": "1号仪表", "addr": 1, "color": "#ff0000"},
  {"name": "Kiln", "addr": 12, "color": "#00aa00"}
]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	list, err := LoadInstruments(path)
	require.NoError(t, err)
	want := []Instrument{
		{Name: "1号仪表", Addr: 1, Color: "#ff0000"},
		{Name: "Kiln", Addr: 12, Color: "#00aa00"},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("LoadInstruments mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInstruments_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments_config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	list, err := LoadInstruments(path)
	assert.Error(t, err)
	assert.Equal(t, DefaultInstruments(), list)
}

func TestSaveInstruments_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments_config.json")
	list := []Instrument{{Name: "炉温 <A>", Addr: 3, Color: "#123abc"}}

	require.NoError(t, SaveInstruments(path, list))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"name": "炉温 <A>"`), string(data))

	got, err := LoadInstruments(path)
	require.NoError(t, err)
	assert.Equal(t, list, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestValidateInstruments(t *testing.T) {
	ok := []Instrument{{Name: "a", Addr: 1, Color: "#ff0000"}, {Name: "b", Addr: 2}}
	assert.NoError(t, ValidateInstruments(ok, protocol.AIBUS))
	assert.NoError(t, ValidateInstruments(nil, protocol.Modbus))

	tests := []struct {
		name string
		list []Instrument
		p    protocol.Protocol
	}{
		{"duplicate", []Instrument{{Name: "a", Addr: 1}, {Name: "b", Addr: 1}}, protocol.AIBUS},
		{"aibus range", []Instrument{{Name: "a", Addr: 127}}, protocol.AIBUS},
		{"modbus zero", []Instrument{{Name: "a", Addr: 0}}, protocol.Modbus},
		{"no name", []Instrument{{Name: " ", Addr: 1}}, protocol.AIBUS},
		{"color", []Instrument{{Name: "a", Addr: 1, Color: "red"}}, protocol.AIBUS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateInstruments(tt.list, tt.p))
		})
	}
}

func TestNamesAndAddresses(t *testing.T) {
	list := []Instrument{{Name: "b", Addr: 7}, {Name: "a", Addr: 2}}
	assert.Equal(t, map[int]string{7: "b", 2: "a"}, Names(list))
	assert.Equal(t, []int{7, 2}, Addresses(list))
}
