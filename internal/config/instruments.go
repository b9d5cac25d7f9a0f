package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/banshee-data/temperature.report/internal/protocol"
)

// Instrument is one controller on the bus. The JSON form is the on-disk
// instruments file format.
type Instrument struct {
	Name  string `json:"name"`
	Addr  int    `json:"addr"`
	Color string `json:"color"`
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// DefaultInstruments is the list used when no instruments file exists.
func DefaultInstruments() []Instrument {
	return []Instrument{{Name: "Instrument 1", Addr: 1, Color: "#ff0000"}}
}

// LoadInstruments reads the instruments file. A missing file yields the
// defaults. A file that exists but cannot be parsed yields the defaults and
// an error describing why, so the caller can log it and carry on.
func LoadInstruments(path string) ([]Instrument, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return DefaultInstruments(), nil
	}
	if err != nil {
		return DefaultInstruments(), fmt.Errorf("failed to read instruments file: %w", err)
	}
	var list []Instrument
	if err := json.Unmarshal(data, &list); err != nil {
		return DefaultInstruments(), fmt.Errorf("failed to parse instruments file %s: %w", path, err)
	}
	return list, nil
}

// SaveInstruments writes list to path atomically, two-space indented with
// non-ASCII names kept readable.
func SaveInstruments(path string, list []Instrument) error {
	if list == nil {
		list = []Instrument{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".instruments-*.json")
	if err != nil {
		return fmt.Errorf("failed to save instruments: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save instruments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save instruments: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save instruments: %w", err)
	}
	return nil
}

// ValidateInstruments checks names, colours and that every address is in
// range for p and used once.
func ValidateInstruments(list []Instrument, p protocol.Protocol) error {
	seen := make(map[int]string, len(list))
	for i, inst := range list {
		if strings.TrimSpace(inst.Name) == "" {
			return fmt.Errorf("instrument %d: name is required", i+1)
		}
		if err := protocol.ValidAddress(p, inst.Addr); err != nil {
			return fmt.Errorf("instrument %q: %w", inst.Name, err)
		}
		if other, dup := seen[inst.Addr]; dup {
			return fmt.Errorf("instrument %q: address %d already used by %q", inst.Name, inst.Addr, other)
		}
		seen[inst.Addr] = inst.Name
		if inst.Color != "" && !colorPattern.MatchString(inst.Color) {
			return fmt.Errorf("instrument %q: color %q is not #rrggbb", inst.Name, inst.Color)
		}
	}
	return nil
}

// Names maps each address to its instrument name.
func Names(list []Instrument) map[int]string {
	m := make(map[int]string, len(list))
	for _, inst := range list {
		m[inst.Addr] = inst.Name
	}
	return m
}

// Addresses lists the addresses in configuration order.
func Addresses(list []Instrument) []int {
	out := make([]int, len(list))
	for i, inst := range list {
		out[i] = inst.Addr
	}
	return out
}
