package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/temperature.report/internal/config"
	"github.com/banshee-data/temperature.report/internal/protocol"
)

// setFlags sets command-line flags for one test and restores their
// previous values afterwards.
func setFlags(t *testing.T, values map[string]string) {
	t.Helper()
	for name, v := range values {
		f := flag.Lookup(name)
		require.NotNil(t, f, "flag %s", name)
		prev := f.Value.String()
		require.NoError(t, flag.Set(name, v))
		t.Cleanup(func() { flag.Set(name, prev) })
	}
}

func TestFlagDefaults(t *testing.T) {
	for _, name := range []string{"config", "db", "listen", "port", "protocol", "instruments"} {
		f := flag.Lookup(name)
		require.NotNil(t, f, "flag %s not defined", name)
		assert.Empty(t, f.DefValue, "flag %s should defer to the config file", name)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDatabase, cfg.Database)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
	assert.Equal(t, config.DefaultInstrumentsFile, cfg.InstrumentsFile)
	assert.Equal(t, protocol.AIBUS, cfg.Protocol())
	assert.Empty(t, cfg.Serial.Port)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templogger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: from-file.db
listen: ":9000"
serial:
  port: COM1
  protocol: AIBUS
`), 0o600))

	setFlags(t, map[string]string{
		"config":      path,
		"port":        "/dev/ttyUSB0",
		"protocol":    "modbus",
		"instruments": filepath.Join(dir, "inst.json"),
	})

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.Database)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, protocol.Modbus, cfg.Protocol())
	assert.Equal(t, filepath.Join(dir, "inst.json"), cfg.InstrumentsFile)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		setFlags(t, map[string]string{"config": filepath.Join(t.TempDir(), "nope.yaml")})
		_, err := loadConfig()
		assert.Error(t, err)
	})
	t.Run("bad protocol flag", func(t *testing.T) {
		setFlags(t, map[string]string{"protocol": "canbus"})
		_, err := loadConfig()
		assert.ErrorIs(t, err, protocol.ErrUnknown)
	})
}

func TestLoadInstruments(t *testing.T) {
	dir := t.TempDir()

	t.Run("saved list", func(t *testing.T) {
		cfg := config.Default()
		cfg.InstrumentsFile = filepath.Join(dir, "ok.json")
		want := []config.Instrument{{Name: "Kiln", Addr: 4, Color: "#123456"}}
		require.NoError(t, config.SaveInstruments(cfg.InstrumentsFile, want))
		assert.Equal(t, want, loadInstruments(cfg))
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := config.Default()
		cfg.InstrumentsFile = filepath.Join(dir, "missing.json")
		assert.Equal(t, config.DefaultInstruments(), loadInstruments(cfg))
	})

	t.Run("corrupt file", func(t *testing.T) {
		cfg := config.Default()
		cfg.InstrumentsFile = filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(cfg.InstrumentsFile, []byte("{not json"), 0o600))
		assert.Equal(t, config.DefaultInstruments(), loadInstruments(cfg))
	})

	t.Run("invalid for protocol", func(t *testing.T) {
		cfg := config.Default()
		cfg.Serial.Protocol = "MODBUS"
		cfg.InstrumentsFile = filepath.Join(dir, "zero.json")
		require.NoError(t, config.SaveInstruments(cfg.InstrumentsFile, []config.Instrument{{Name: "zero", Addr: 0}}))
		assert.Equal(t, config.DefaultInstruments(), loadInstruments(cfg))
	})
}
