// Package poller runs the fixed-cadence polling loop: once per cycle it
// snapshots the settings, makes sure the serial link is open on the selected
// port, reads every configured instrument and stores one reading each.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/temperature.report/internal/config"
	"github.com/banshee-data/temperature.report/internal/db"
	"github.com/banshee-data/temperature.report/internal/monitoring"
	"github.com/banshee-data/temperature.report/internal/protocol"
	"github.com/banshee-data/temperature.report/internal/timeutil"
)

const (
	DefaultInterval    = time.Second
	DefaultIdleBackoff = time.Second
)

// portKey is the EdgeLogger key for link-level conditions; instrument
// addresses are never negative.
const portKey = -1

type State int

const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Transport is the serial link as the scheduler uses it.
type Transport interface {
	Open(port string) error
	Close() error
	IsOpen() bool
	Port() string
	Status() string
	Query(addr uint8, p protocol.Protocol) (float64, error)
}

// Store is where readings and poll sessions go.
type Store interface {
	InsertReading(ctx context.Context, r db.Reading) error
	StartPollSession(ctx context.Context, id string, started time.Time, port, protocol string) error
	EndPollSession(ctx context.Context, id string, ended time.Time) error
}

// SettingsSource hands out an immutable copy of the current settings.
type SettingsSource interface {
	Snapshot() config.Settings
}

type Options struct {
	Interval    time.Duration
	IdleBackoff time.Duration
	// Location renders the date and time keys; nil means local time.
	Location     *time.Location
	Clock        timeutil.Clock
	NewSessionID func() string
}

// Result is the outcome of one instrument read within a cycle.
type Result struct {
	Addr        int     `json:"addr"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	Error       string  `json:"error,omitempty"`
}

// Cycle is one completed polling cycle. All results share Timestamp.
type Cycle struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	DateKey   string    `json:"date"`
	TimeKey   string    `json:"time"`
	Results   []Result  `json:"results"`
}

type Status struct {
	State       State     `json:"state"`
	Port        string    `json:"port"`
	Protocol    string    `json:"protocol"`
	Message     string    `json:"message"`
	SessionID   string    `json:"session_id,omitempty"`
	LastCycle   time.Time `json:"last_cycle"`
	Cycles      uint64    `json:"cycles"`
	FailedReads uint64    `json:"failed_reads"`
}

// Scheduler owns the transport. Step and Run must not be called
// concurrently; Status, Subscribe and Unsubscribe are safe from any goroutine.
type Scheduler struct {
	transport Transport
	store     Store
	settings  SettingsSource
	opts      Options
	edges     *monitoring.EdgeLogger

	mu      sync.Mutex
	status  Status
	lastTS  time.Time
	session config.Settings

	subscriberMu sync.Mutex
	subscribers  map[string]chan Cycle
}

func New(t Transport, s Store, src SettingsSource, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = DefaultIdleBackoff
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	return &Scheduler{
		transport:   t,
		store:       s,
		settings:    src,
		opts:        opts,
		edges:       monitoring.NewEdgeLogger(),
		status:      Status{State: Idle, Message: "not started"},
		subscribers: make(map[string]chan Cycle),
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run loops Step until ctx is done, then closes the port and ends the
// current poll session. It returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.shutdown()
	for {
		wait := s.Step(ctx)
		if err := timeutil.Wait(ctx, s.opts.Clock, wait); err != nil {
			return err
		}
	}
}

// Step runs one tick of the state machine and returns how long to wait
// before the next one. A cycle that overran its period returns 0; missed
// cycles are not made up.
func (s *Scheduler) Step(ctx context.Context) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	start := s.opts.Clock.Now()
	settings := s.settings.Snapshot()

	if settings.Port == "" {
		if s.transport.IsOpen() {
			s.transport.Close()
		}
		s.goIdle(ctx, "no port selected")
		return s.opts.IdleBackoff
	}

	if s.transport.IsOpen() && s.transport.Port() != settings.Port {
		s.goIdle(ctx, fmt.Sprintf("port changed to %s", settings.Port))
		s.transport.Close()
	}
	if err := s.transport.Open(settings.Port); err != nil {
		s.edges.Failed(portKey, "poller: %v", err)
		s.goIdle(ctx, s.transport.Status())
		return s.opts.IdleBackoff
	}
	s.edges.Recovered(portKey, "poller: serial port %s open", settings.Port)
	s.goPolling(ctx, settings, start)

	cycle := s.poll(ctx, settings, s.cycleTimestamp(start))
	s.publish(cycle)

	elapsed := s.opts.Clock.Since(start)
	if elapsed >= s.opts.Interval {
		return 0
	}
	return s.opts.Interval - elapsed
}

// poll reads every instrument once. Each read and each insert fails on its
// own; nothing here stops the cycle.
func (s *Scheduler) poll(ctx context.Context, settings config.Settings, ts time.Time) Cycle {
	cycle := Cycle{Timestamp: ts, Results: make([]Result, 0, len(settings.Instruments))}
	var failed uint64
	for _, inst := range settings.Instruments {
		res := Result{Addr: inst.Addr, Name: inst.Name}
		temp, err := s.read(inst.Addr, settings.Protocol)
		res.Temperature = temp
		if err != nil {
			failed++
			res.Error = err.Error()
			s.edges.Failed(inst.Addr, "poller: %s addr %d read failed: %v", settings.Protocol, inst.Addr, err)
		} else {
			s.edges.Recovered(inst.Addr, "poller: %s addr %d reading again", settings.Protocol, inst.Addr)
		}

		r := db.NewReading(ts, s.opts.Location, inst.Addr, temp)
		cycle.DateKey, cycle.TimeKey = r.DateKey, r.TimeKey
		if err := s.store.InsertReading(ctx, r); err != nil {
			monitoring.Logf("poller: %v", err)
		}
		cycle.Results = append(cycle.Results, res)
	}
	if cycle.DateKey == "" {
		r := db.NewReading(ts, s.opts.Location, 0, 0)
		cycle.DateKey, cycle.TimeKey = r.DateKey, r.TimeKey
	}

	s.mu.Lock()
	s.status.LastCycle = ts
	s.status.Cycles++
	s.status.FailedReads += failed
	s.status.Message = s.transport.Status()
	cycle.SessionID = s.status.SessionID
	s.mu.Unlock()
	return cycle
}

func (s *Scheduler) read(addr int, p protocol.Protocol) (float64, error) {
	if err := protocol.ValidAddress(p, addr); err != nil {
		return protocol.Sentinel, err
	}
	return s.transport.Query(uint8(addr), p)
}

// cycleTimestamp never goes backwards within a session: if the wall clock
// steps back, the previous timestamp is reused.
func (s *Scheduler) cycleTimestamp(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.lastTS) {
		return s.lastTS
	}
	s.lastTS = now
	return now
}

func (s *Scheduler) goPolling(ctx context.Context, settings config.Settings, now time.Time) {
	s.mu.Lock()
	prev := s.status
	sameSession := prev.State == Polling && s.session.Port == settings.Port && s.session.Protocol == settings.Protocol
	s.mu.Unlock()
	if sameSession {
		return
	}
	if prev.State == Polling {
		// protocol switched on an open port
		s.endSession(ctx, prev.SessionID)
	}

	id := s.opts.NewSessionID()
	if err := s.store.StartPollSession(ctx, id, now, settings.Port, settings.Protocol.String()); err != nil {
		monitoring.Logf("poller: %v", err)
	}

	s.mu.Lock()
	s.status.State = Polling
	s.status.Port = settings.Port
	s.status.Protocol = settings.Protocol.String()
	s.status.SessionID = id
	s.status.Message = s.transport.Status()
	s.session = settings
	s.lastTS = time.Time{}
	s.mu.Unlock()
	monitoring.Logf("poller: %s -> polling on %s (%s), session %s", prev.State, settings.Port, settings.Protocol, id)
}

func (s *Scheduler) goIdle(ctx context.Context, reason string) {
	s.mu.Lock()
	prev := s.status
	s.status.State = Idle
	s.status.SessionID = ""
	s.status.Message = reason
	s.mu.Unlock()
	if prev.State == Polling {
		s.endSession(ctx, prev.SessionID)
		monitoring.Logf("poller: polling -> idle: %s", reason)
	}
}

func (s *Scheduler) endSession(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := s.store.EndPollSession(ctx, id, s.opts.Clock.Now()); err != nil {
		monitoring.Logf("poller: %v", err)
	}
}

func (s *Scheduler) shutdown() {
	s.goIdle(context.Background(), "stopped")
	if err := s.transport.Close(); err != nil {
		monitoring.Logf("poller: closing serial port: %v", err)
	}
}
