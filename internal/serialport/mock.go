package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// Responder produces the bytes an instrument would send back for a request
// frame. Returning nil simulates a silent station.
type Responder func(request []byte) []byte

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// A read on an empty buffer returns (0, nil), which is how a real port
// reports an elapsed read timeout.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// Responder, if set, is called on every Write and its reply is queued
	// for reading.
	Responder Responder

	// Requests records every frame written to the port
	Requests [][]byte

	// ReadChunk limits how many bytes a single Read returns (0 = no limit)
	ReadChunk int

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ResetCalls records the number of ResetInputBuffer calls
	ResetCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort(r Responder) *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer: bytes.NewBuffer(nil),
		Responder:  r,
	}
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	if t.ReadChunk > 0 && len(p) > t.ReadChunk {
		p = p[:t.ReadChunk]
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	t.Requests = append(t.Requests, append([]byte(nil), p...))
	if t.Responder != nil {
		t.ReadBuffer.Write(t.Responder(p))
	}
	if t.ShortWrite {
		return len(p) - 1, nil
	}
	return len(p), nil
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer implements InputResetter.
func (t *TestableSerialPort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ResetCalls++
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData queues unsolicited bytes, e.g. a stale reply.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
}

// WrittenFrames returns a copy of every frame written so far.
func (t *TestableSerialPort) WrittenFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.Requests))
	copy(out, t.Requests)
	return out
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// FailuresLeft makes the next N Open calls fail with a "device busy"
	// error before Open falls through to Error or Port.
	FailuresLeft int

	// OpenCalls records the path of every Open call
	OpenCalls []string
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, path)

	if f.FailuresLeft > 0 {
		f.FailuresLeft--
		return nil, errors.New("device busy")
	}
	if f.Error != nil {
		return nil, f.Error
	}
	if tsp, ok := f.Port.(*TestableSerialPort); ok {
		tsp.mu.Lock()
		tsp.Closed = false
		tsp.mu.Unlock()
	}
	return f.Port, nil
}

// Calls returns the number of Open calls so far.
func (f *MockSerialPortFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}
