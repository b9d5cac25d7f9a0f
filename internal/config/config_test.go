package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/temperature.report/internal/protocol"
	"github.com/banshee-data/temperature.report/internal/serialport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Database != DefaultDatabase {
		t.Errorf("Database = %q, want %q", cfg.Database, DefaultDatabase)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.Protocol() != protocol.AIBUS {
		t.Errorf("Protocol() = %v, want AIBUS", cfg.Protocol())
	}
	if cfg.Poll.Interval != time.Second || cfg.Poll.IdleBackoff != time.Second {
		t.Errorf("Poll = %+v, want 1s/1s", cfg.Poll)
	}
	if cfg.Retention.Window != 7*24*time.Hour || cfg.Retention.Interval != time.Hour {
		t.Errorf("Retention = %+v, want 168h/1h", cfg.Retention)
	}
	if cfg.Serial.ReadTimeout != 200*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 200ms", cfg.Serial.ReadTimeout)
	}
	if cfg.Serial.Options != (serialport.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}) {
		t.Errorf("Options = %+v, want 9600 8N1", cfg.Serial.Options)
	}
	if cfg.Display.MaxPlotPoints != 1000 || cfg.Display.LatestRows != 20 {
		t.Errorf("Display = %+v", cfg.Display)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templogger.yaml")
	data := `
database: /var/lib/templogger/history.db
listen: 127.0.0.1:9000
serial:
  port: /dev/ttyUSB0
  protocol: modbus
  strict_checksum: true
  options:
    baud_rate: 19200
    parity: even
poll:
  interval: 2s
retention:
  window: 72h
display:
  timezone: Asia/Shanghai
  max_plot_points: 500
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database != "/var/lib/templogger/history.db" || cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("paths not loaded: %+v", cfg)
	}
	if cfg.Protocol() != protocol.Modbus || !cfg.Serial.StrictChecksum || cfg.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("serial not loaded: %+v", cfg.Serial)
	}
	if cfg.Serial.Options.BaudRate != 19200 || cfg.Serial.Options.Parity != "E" || cfg.Serial.Options.DataBits != 8 {
		t.Errorf("Options = %+v", cfg.Serial.Options)
	}
	if cfg.Poll.Interval != 2*time.Second || cfg.Poll.IdleBackoff != time.Second {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Retention.Window != 72*time.Hour || cfg.Retention.Interval != time.Hour {
		t.Errorf("Retention = %+v", cfg.Retention)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Shanghai" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
	if cfg.Display.MaxPlotPoints != 500 {
		t.Errorf("MaxPlotPoints = %d", cfg.Display.MaxPlotPoints)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file: error = nil")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Database != DefaultDatabase {
		t.Errorf("Database = %q", cfg.Database)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "serial:\n  baud: 9600\n", "field baud not found"},
		{"protocol", "serial:\n  protocol: profibus\n", "unknown protocol"},
		{"baud", "serial:\n  options:\n    baud_rate: 12345\n", "invalid baud rate"},
		{"duration", "poll:\n  interval: soon\n", "parse config"},
		{"negative", "poll:\n  interval: -1s\n", "poll durations"},
		{"timezone", "display:\n  timezone: Mars/Olympus\n", "display.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
