package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/temperature.report/internal/monitoring"
	"github.com/banshee-data/temperature.report/internal/protocol"
	"github.com/banshee-data/temperature.report/internal/timeutil"
)

// DefaultReadTimeout bounds a single transaction's wait for a response.
const DefaultReadTimeout = 200 * time.Millisecond

var (
	ErrPortUnavailable = errors.New("serial port unavailable")
	ErrNoTransport     = errors.New("no serial port open")
	ErrWriteFailed     = errors.New("failed to write to serial port")
)

// Transport owns at most one open serial port and runs request/response
// transactions on it. The poller is its only user; the mutex keeps the
// status accessors safe for concurrent readers.
type Transport struct {
	mu      sync.Mutex
	factory SerialPortFactory
	opts    PortOptions
	clock   timeutil.Clock
	timeout time.Duration
	strict  bool

	port   SerialPorter
	path   string
	status string
}

// Option configures a Transport.
type Option func(*Transport)

// WithReadTimeout overrides DefaultReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithStrictChecksum makes Query reject responses whose checksum or header
// does not verify, instead of decoding whatever arrived.
func WithStrictChecksum(strict bool) Option {
	return func(t *Transport) { t.strict = strict }
}

// WithClock replaces the clock used for read deadlines.
func WithClock(c timeutil.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

func NewTransport(factory SerialPortFactory, opts PortOptions, options ...Option) *Transport {
	t := &Transport{
		factory: factory,
		opts:    opts,
		clock:   timeutil.RealClock{},
		timeout: DefaultReadTimeout,
		status:  "no port selected",
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// Open makes path the active port. It is a no-op if path is already open.
// Any other open port is closed first. On failure the transport is left
// closed and the error wraps ErrPortUnavailable.
func (t *Transport) Open(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil && t.path == path {
		return nil
	}
	t.closeLocked()

	port, err := t.factory.Open(path, t.opts)
	if err != nil {
		t.status = fmt.Sprintf("port error: %s: %v", path, err)
		return fmt.Errorf("%w: %s: %v", ErrPortUnavailable, path, err)
	}
	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(t.timeout); err != nil {
			port.Close()
			t.status = fmt.Sprintf("port error: %s: %v", path, err)
			return fmt.Errorf("%w: %s: set read timeout: %v", ErrPortUnavailable, path, err)
		}
	}

	t.port = port
	t.path = path
	t.status = fmt.Sprintf("port open: %s (%s)", path, t.opts)
	monitoring.Logf("opened serial port %s (%s)", path, t.opts)
	return nil
}

// Close closes the active port, if any.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.closeLocked()
	t.status = "port closed"
	return err
}

func (t *Transport) closeLocked() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	monitoring.Logf("closed serial port %s", t.path)
	t.port = nil
	t.path = ""
	return err
}

// IsOpen reports whether a port is currently open.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Port returns the path of the open port, or "" when closed.
func (t *Transport) Port() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Status is a one-line human readable description of the link state.
func (t *Transport) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Query reads the process temperature of the station at addr. It always
// returns a value: on failure that value is protocol.Sentinel and err says
// why. A timeout or garbled reply affects only this call. An OS-level I/O
// error closes the port so the poller reopens it on its next cycle.
func (t *Transport) Query(addr uint8, p protocol.Protocol) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return protocol.Sentinel, ErrNoTransport
	}

	if r, ok := t.port.(InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return protocol.Sentinel, t.ioFailureLocked("reset input", err)
		}
	}

	req := protocol.BuildRequest(p, addr)
	n, err := t.port.Write(req)
	if err != nil {
		return protocol.Sentinel, t.ioFailureLocked("write", err)
	}
	if n != len(req) {
		return protocol.Sentinel, fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(req))
	}

	resp, err := t.readLocked(protocol.ResponseLength(p))
	if err != nil {
		return protocol.Sentinel, t.ioFailureLocked("read", err)
	}

	temp, err := protocol.ParseResponse(p, resp)
	if err != nil {
		return protocol.Sentinel, fmt.Errorf("%s addr %d: %w", p, addr, err)
	}
	if t.strict {
		if err := protocol.VerifyResponse(p, addr, resp); err != nil {
			return protocol.Sentinel, fmt.Errorf("%s addr %d: %w", p, addr, err)
		}
	}
	return temp, nil
}

// readLocked collects up to want bytes, stopping early when the port reports
// a timeout (a zero-length read or EOF) or the transaction deadline passes.
// Each Read is limited to the time left before the deadline, so the whole
// transaction never outlasts the read timeout.
func (t *Transport) readLocked(want int) ([]byte, error) {
	buf := make([]byte, want)
	deadline := t.clock.Now().Add(t.timeout)
	tp, adjustable := t.port.(TimeoutSerialPorter)
	current := t.timeout
	defer func() {
		if adjustable && current != t.timeout {
			if err := tp.SetReadTimeout(t.timeout); err != nil {
				monitoring.Logf("serial port %s: restoring read timeout: %v", t.path, err)
			}
		}
	}()

	n := 0
	for n < want {
		remaining := deadline.Sub(t.clock.Now())
		if remaining <= 0 {
			break
		}
		if adjustable && remaining < current {
			if err := tp.SetReadTimeout(remaining); err != nil {
				return buf[:n], err
			}
			current = remaining
		}
		m, err := t.port.Read(buf[n:])
		n += m
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return buf[:n], err
		}
		if m == 0 {
			break
		}
	}
	return buf[:n], nil
}

func (t *Transport) ioFailureLocked(op string, err error) error {
	path := t.path
	t.closeLocked()
	t.status = fmt.Sprintf("port error: %s: %s: %v", path, op, err)
	return fmt.Errorf("%s %s: %w", op, path, err)
}
