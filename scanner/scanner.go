package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
	"github.com/srg/solebridge/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// EventType marks if the peer was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

type Event struct {
	Type   EventType
	Result Result
}

// Target is a named advertised-name pattern results are matched against.
type Target struct {
	Label   string
	Pattern string
}

// Result is one peer seen during a scan.
type Result struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	RSSI     int       `json:"rssi"`
	Seen     int       `json:"seen"`
	Match    string    `json:"match,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// Options configures scanning behavior
type Options struct {
	Duration        time.Duration
	ServiceUUID     string
	DuplicateFilter bool
	// PowerTimeout bounds the wait for the radio to report power-on.
	PowerTimeout time.Duration
	Targets      []Target
	AllowList    []string
	BlockList    []string
}

// DefaultOptions returns default scanning options for serviceUUID
func DefaultOptions(serviceUUID string) *Options {
	return &Options{
		Duration:        10 * time.Second,
		ServiceUUID:     serviceUUID,
		DuplicateFilter: true,
		PowerTimeout:    5 * time.Second,
	}
}

// Scanner performs one-shot discovery of peers advertising a service
type Scanner struct {
	radio  device.Adapter
	logger *logrus.Logger
	events *ringchan.Chan[Event]

	peers   *hashmap.Map[string, Result]
	opts    *Options
	stopped atomic.Bool
}

// NewScanner creates a scanner on top of radio
func NewScanner(radio device.Adapter, logger *logrus.Logger) (*Scanner, error) {
	if radio == nil {
		return nil, fmt.Errorf("radio adapter cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		radio:  radio,
		logger: logger,
		events: ringchan.New[Event](100),
	}, nil
}

// Scan opens the radio, discovers peers for opts.Duration (or until ctx is
// done) and returns them strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *Options, progressCallback ProgressCallback) ([]Result, error) {
	if opts == nil {
		return nil, fmt.Errorf("scan options cannot be nil")
	}
	if _, err := device.ValidateUUID(opts.ServiceUUID); err != nil {
		return nil, err
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.peers = hashmap.New[string, Result]()
	s.opts = opts
	s.stopped.Store(false)

	powered := make(chan struct{})
	var poweredOnce sync.Once
	scanErr := make(chan error, 1)

	handler := func(ev device.Event) {
		switch e := ev.(type) {
		case device.PowerStateChanged:
			if e.State == device.PoweredOn {
				poweredOnce.Do(func() { close(powered) })
			}
		case device.PeerDiscovered:
			s.handlePeer(e.Peer)
		case device.ScanStopped:
			select {
			case scanErr <- e.Err:
			default:
			}
		}
	}

	progressCallback("Waiting for Bluetooth")
	if err := s.radio.Open(ctx, handler); err != nil {
		return nil, fmt.Errorf("failed to open radio: %w", err)
	}
	defer func() {
		if err := s.radio.Close(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to close radio")
		}
	}()

	if err := s.waitPowered(ctx, powered, opts.PowerTimeout); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"duration":     opts.Duration,
		"service_uuid": opts.ServiceUUID,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err := s.radio.StartScan(opts.ServiceUUID, !opts.DuplicateFilter); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	var err error
	select {
	case <-scanCtx.Done():
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ctx.Err()
		}
	case e := <-scanErr:
		err = fmt.Errorf("scan failed: %w", e)
	}

	s.stopped.Store(true)
	if stopErr := s.radio.StopScan(); stopErr != nil {
		s.logger.WithField("error", stopErr).Debug("Failed to stop scan")
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.peers.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.results(), nil
}

func (s *Scanner) waitPowered(ctx context.Context, powered <-chan struct{}, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-powered:
		return nil
	case <-expired:
		return fmt.Errorf("bluetooth adapter did not power on within %s: %w", timeout, device.ErrBluetoothOff)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePeer updates an existing result or adds a new one
func (s *Scanner) handlePeer(peer device.Peer) {
	if s.stopped.Load() {
		return
	}
	addr := peer.Address()

	prev, existing := s.peers.Get(addr)
	if !existing && !s.shouldInclude(addr) {
		return
	}

	r := Result{
		Name:     peer.Name(),
		Address:  addr,
		RSSI:     peer.RSSI(),
		Seen:     prev.Seen + 1,
		LastSeen: time.Now(),
	}
	if r.Name == "" {
		r.Name = prev.Name
	}
	r.Match = s.match(r.Name)
	s.peers.Set(addr, r)

	event := Event{Type: EventUpdated, Result: r}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"name":    r.Name,
			"address": r.Address,
			"rssi":    r.RSSI,
			"match":   r.Match,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Push(event)
}

// shouldInclude applies allow/block filters
func (s *Scanner) shouldInclude(addr string) bool {
	for _, blocked := range s.opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(s.opts.AllowList) == 0 {
		return true
	}
	for _, a := range s.opts.AllowList {
		if strings.EqualFold(addr, a) {
			return true
		}
	}
	return false
}

// match returns the label of the first target whose pattern occurs in name.
func (s *Scanner) match(name string) string {
	if name == "" {
		return ""
	}
	for _, t := range s.opts.Targets {
		if t.Pattern != "" && strings.Contains(name, t.Pattern) {
			return t.Label
		}
	}
	return ""
}

func (s *Scanner) results() []Result {
	out := make([]Result, 0, s.peers.Len())
	s.peers.Range(func(_ string, r Result) bool {
		out = append(out, r)
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Events return a read-only channel of discovery events
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}
