package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
	"github.com/srg/solebridge/internal/groutine"
	"github.com/srg/solebridge/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultScanRestartDelay = 2 * time.Second
	DefaultConnectTimeout   = 30 * time.Second

	eventQueueSize = 256
	teardownWait   = 5 * time.Second
)

// Target binds a slot to the advertised-name substring that selects its peer.
type Target struct {
	Slot    Slot
	Pattern string
}

// Config configures a Coordinator.
type Config struct {
	// Targets are matched in order: a peer goes to the first Idle slot whose pattern it contains.
	Targets     []Target
	ServiceUUID string
	NotifyUUID  string
	// WriteUUID is optional. Without it actuator writes are always refused.
	WriteUUID string

	Decoder          *protocol.Decoder
	ScanRestartDelay time.Duration
	ConnectTimeout   time.Duration
}

// Coordinator owns every session and the shared scanner. All state changes
// happen on the goroutine running Run; everything else talks to it by posting
// events, which makes transitions atomic with respect to each other.
type Coordinator struct {
	cfg    Config
	radio  device.Adapter
	pub    Publisher
	logger *logrus.Logger

	events  chan any
	done    chan struct{}
	started atomic.Bool

	// immutable after New, so safe to range from any goroutine
	sessions *orderedmap.OrderedMap[Slot, *session]

	// owned by the loop
	ctx        context.Context
	power      device.PowerState
	scanning   bool
	closing    bool
	restart    *time.Timer
	restartSeq uint64
	tasks      groutine.Group

	status atomic.Pointer[Status]
}

// New validates cfg and creates a coordinator. pub may be nil.
func New(radio device.Adapter, pub Publisher, cfg Config, logger *logrus.Logger) (*Coordinator, error) {
	if radio == nil {
		return nil, fmt.Errorf("radio adapter cannot be nil")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}
	uuids := []string{cfg.ServiceUUID, cfg.NotifyUUID}
	if cfg.WriteUUID != "" {
		uuids = append(uuids, cfg.WriteUUID)
	}
	if _, err := device.ValidateUUID(uuids...); err != nil {
		return nil, err
	}
	if cfg.Decoder == nil {
		d, err := protocol.NewDecoder(protocol.FormatBinary, 0)
		if err != nil {
			return nil, err
		}
		cfg.Decoder = d
	}
	if cfg.ScanRestartDelay <= 0 {
		cfg.ScanRestartDelay = DefaultScanRestartDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	sessions := orderedmap.New[Slot, *session](len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t.Pattern == "" {
			return nil, fmt.Errorf("target pattern for slot %s cannot be empty", t.Slot)
		}
		if _, ok := sessions.Get(t.Slot); ok {
			return nil, fmt.Errorf("duplicate target for slot %s", t.Slot)
		}
		sessions.Set(t.Slot, newSession(t.Slot, t.Pattern, logger))
	}

	c := &Coordinator{
		cfg:      cfg,
		radio:    radio,
		pub:      pub,
		logger:   logger,
		events:   make(chan any, eventQueueSize),
		done:     make(chan struct{}),
		sessions: sessions,
	}
	st := c.buildStatus()
	c.status.Store(&st)
	return c, nil
}

// Run opens the radio and processes events until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator is already running")
	}
	defer close(c.done)

	c.ctx = ctx
	if err := c.radio.Open(ctx, c.onRadioEvent); err != nil {
		return fmt.Errorf("failed to open radio: %w", err)
	}
	defer func() {
		if err := c.radio.Close(); err != nil {
			c.logger.WithField("error", err).Warn("Failed to close radio")
		}
	}()

	c.logger.WithFields(logrus.Fields{
		"service_uuid": c.cfg.ServiceUUID,
		"slots":        c.sessions.Len(),
	}).Info("Bridge coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) onRadioEvent(ev device.Event) {
	c.post(ev)
}

// post hands ev to the loop. It reports false once the loop is gone.
func (c *Coordinator) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) request(ev any) error {
	if !c.post(ev) {
		return ErrStopped
	}
	return nil
}

// StartScan asks the coordinator to scan if any slot still needs a peer.
func (c *Coordinator) StartScan() error {
	return c.request(startScanRequest{})
}

// StopScan stops scanning and cancels a pending delayed restart.
func (c *Coordinator) StopScan() error {
	return c.request(stopScanRequest{})
}

// Disconnect forces slot to Idle and closes its transport.
func (c *Coordinator) Disconnect(slot Slot) error {
	if _, ok := c.sessions.Get(slot); !ok {
		return fmt.Errorf("unknown slot %q", slot)
	}
	return c.request(disconnectRequest{slot: slot})
}

// SetActuator writes the on/off byte to the actuator endpoint of slot.
// Slots that are not Connected refuse the write without touching the radio.
func (c *Coordinator) SetActuator(slot Slot, on bool) error {
	if _, ok := c.sessions.Get(slot); !ok {
		return fmt.Errorf("unknown slot %q", slot)
	}
	return c.request(writeRequest{slot: slot, on: on})
}

// RequestStatus re-broadcasts the current status to every viewer.
func (c *Coordinator) RequestStatus() error {
	return c.request(statusRequest{})
}

// Join delivers the current status through deliver, ordered with respect to
// every broadcast: a viewer that registers before calling Join never misses a
// transition and never sees one out of order.
func (c *Coordinator) Join(deliver func(Status)) error {
	if deliver == nil {
		return fmt.Errorf("deliver cannot be nil")
	}
	return c.request(joinRequest{deliver: deliver})
}

// Shutdown stops scanning and disconnects every Connected session. It returns
// once all disconnects have completed or ctx is done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	if !c.post(shutdownRequest{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown did not complete: %w", ctx.Err())
	}
}

// Status returns the last published status.
func (c *Coordinator) Status() Status {
	return *c.status.Load()
}

// Snapshot returns the last published status together with per-slot counters.
func (c *Coordinator) Snapshot() Snapshot {
	snap := Snapshot{
		Status: c.Status(),
		Stats:  make(map[string]SlotStats, c.sessions.Len()),
	}
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		snap.Stats[pair.Key.Key()] = pair.Value.stats()
	}
	return snap
}

// Slots lists the configured slots in match order.
func (c *Coordinator) Slots() []Slot {
	slots := make([]Slot, 0, c.sessions.Len())
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		slots = append(slots, pair.Key)
	}
	return slots
}

func (c *Coordinator) handle(ev any) {
	switch e := ev.(type) {
	case device.PowerStateChanged:
		c.onPowerState(e.State)
	case device.PeerDiscovered:
		c.onDiscover(e.Peer)
	case device.ScanStopped:
		c.onScanStopped(e.Err)
	case setupDone:
		c.onSetupDone(e)
	case linkLost:
		c.onLinkLost(e)
	case notification:
		c.onNotification(e)
	case scanRestartDue:
		if e.seq == c.restartSeq {
			c.restart = nil
			c.startScanning()
		}
	case startScanRequest:
		c.startScanning()
	case stopScanRequest:
		c.cancelScanRestart()
		c.stopScanning()
	case disconnectRequest:
		c.onDisconnectRequest(e.slot)
	case disconnectDone:
		c.onDisconnectDone(e)
	case writeRequest:
		c.onWrite(e)
	case statusRequest:
		c.publishStatus()
	case joinRequest:
		e.deliver(c.buildStatus())
	case shutdownRequest:
		c.onShutdown(e.done)
	default:
		c.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unhandled coordinator event")
	}
}

func (c *Coordinator) onPowerState(state device.PowerState) {
	c.power = state
	c.logger.WithField("state", state).Info("Bluetooth adapter state changed")

	if state == device.PoweredOn {
		c.startScanning()
		return
	}

	c.cancelScanRestart()
	if c.scanning {
		c.scanning = false
		if err := c.radio.StopScan(); err != nil {
			c.logger.WithField("error", err).Debug("Failed to stop scan on power loss")
		}
	}
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		if s.state != Idle {
			s.logger.WithField("state", s.state).Warn("Radio unavailable, dropping session")
			s.reset()
		}
	}
	c.publishStatus()
}

func (c *Coordinator) onDiscover(peer device.Peer) {
	name := peer.Name()
	if name == "" || c.closing {
		return
	}
	if !c.scanning {
		c.logger.WithField("peer", name).Debug("Ignoring discovery delivered after scan stop")
		return
	}

	s := c.firstMatch(name)
	if s == nil {
		c.logger.WithFields(logrus.Fields{
			"peer":    name,
			"address": peer.Address(),
		}).Debug("Ignoring peer, no idle slot matches")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"peer":    name,
		"address": peer.Address(),
		"rssi":    peer.RSSI(),
	}).Info("Found target device")

	c.stopScanning()
	c.connect(s, peer)

	if c.needsScan() {
		c.scheduleScanRestart()
	}
}

// connect moves s to Connecting and runs the setup sequence in the background.
func (c *Coordinator) connect(s *session, peer device.Peer) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	gen := s.beginConnect(peer, cancel)
	c.publishStatus()

	slot := s.slot
	runCtx := c.ctx
	a := &attempt{
		slot:        slot,
		peer:        peer,
		serviceUUID: c.cfg.ServiceUUID,
		notifyUUID:  c.cfg.NotifyUUID,
		writeUUID:   c.cfg.WriteUUID,
		logger:      s.logger,
		onOpen: func(client device.Client) {
			c.watch(runCtx, slot, gen, client)
		},
		onData: func(data []byte) {
			c.post(notification{slot: slot, gen: gen, data: data})
		},
	}

	c.tasks.Go(ctx, "setup-"+slot.Key(), func(ctx context.Context) {
		l, err := a.run(ctx)
		if !c.post(setupDone{slot: slot, gen: gen, link: l, err: err}) && l != nil {
			_ = l.client.Disconnect()
		}
	})
}

// watch reports the loss of client's transport to the loop.
func (c *Coordinator) watch(ctx context.Context, slot Slot, gen uint64, client device.Client) {
	groutine.Go(ctx, "watch-"+slot.Key(), func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			c.post(linkLost{slot: slot, gen: gen})
		case <-ctx.Done():
		}
	})
}

func (c *Coordinator) onSetupDone(r setupDone) {
	s, _ := c.sessions.Get(r.slot)
	if s == nil {
		return
	}

	if s.state != Connecting || s.gen != r.gen {
		if r.link != nil {
			s.logger.Debug("Closing transport of a superseded connection attempt")
			c.closeLink(r.slot, r.link)
		}
		return
	}

	if r.err != nil {
		s.logger.WithField("error", r.err).Error("Error connecting/setting up device")
		s.reset()
		c.publishStatus()
		c.startScanning()
		return
	}

	if !r.link.client.IsConnected() {
		s.logger.Warn("Transport lost before setup completed")
		s.reset()
		c.publishStatus()
		c.startScanning()
		return
	}

	s.complete(r.gen, r.link)
	s.logger.WithFields(logrus.Fields{
		"address":  r.link.client.Address(),
		"actuator": r.link.write != nil,
	}).Info("Connected and subscribed")
	c.publishStatus()

	// the other slot may still be waiting for its peer
	c.startScanning()
}

func (c *Coordinator) onLinkLost(e linkLost) {
	s, _ := c.sessions.Get(e.slot)
	if s == nil || !s.current(e.gen) {
		c.logger.WithField("slot", e.slot).Debug("Ignoring disconnect of a superseded connection")
		return
	}
	if s.state == Connecting {
		// the setup result reports this loss
		s.logger.Debug("Transport lost during setup")
		return
	}

	s.logger.WithField("state", s.state).Warn("Disconnected from device")
	s.reset()
	c.publishStatus()
	c.startScanning()
}

func (c *Coordinator) onNotification(e notification) {
	s, _ := c.sessions.Get(e.slot)
	if s == nil || s.state != Connected || s.gen != e.gen {
		c.logger.WithField("slot", e.slot).Debug("Dropping notification outside an established session")
		return
	}

	values, err := c.cfg.Decoder.Decode(e.data)
	if err != nil {
		s.malformed.Add(1)
		s.logger.WithFields(logrus.Fields{
			"bytes":   len(e.data),
			"payload": hex.EncodeToString(e.data),
			"error":   err,
		}).Warn("Dropping malformed frame")
		return
	}

	s.frames.Add(1)
	c.pub.PublishReading(Reading{Slot: s.slot, Values: values})
}

func (c *Coordinator) onScanStopped(err error) {
	if !c.scanning {
		return
	}
	c.logger.WithField("error", err).Error("Scan stopped unexpectedly")
	c.scanning = false
	c.publishStatus()
	c.scheduleScanRestart()
}

func (c *Coordinator) onDisconnectRequest(slot Slot) {
	s, _ := c.sessions.Get(slot)
	if s == nil {
		return
	}
	if s.state == Idle {
		s.logger.Info("Cannot disconnect, device is not connected or connecting")
		return
	}

	s.logger.WithField("state", s.state).Info("Disconnecting by viewer request")
	l := s.reset()
	c.publishStatus()

	// a Connecting attempt was cancelled by reset and unwinds its own transport
	if l == nil {
		c.startScanning()
		return
	}
	c.tasks.Go(c.ctx, "disconnect-"+slot.Key(), func(context.Context) {
		err := l.client.Disconnect()
		c.post(disconnectDone{slot: slot, err: err})
	})
}

func (c *Coordinator) onDisconnectDone(e disconnectDone) {
	logger := c.logger.WithField("slot", e.slot)
	if e.err != nil {
		logger.WithField("error", e.err).Error("Error disconnecting device")
	} else {
		logger.Info("Device disconnected")
	}
	c.startScanning()
}

func (c *Coordinator) onWrite(e writeRequest) {
	s, _ := c.sessions.Get(e.slot)
	if s == nil || s.state != Connected || s.link == nil || s.link.write == nil {
		c.logger.WithFields(logrus.Fields{
			"slot": e.slot,
			"on":   e.on,
		}).Warn("Cannot write actuator state, device not connected or actuator characteristic missing")
		return
	}

	payload := []byte{0}
	if e.on {
		payload[0] = 1
	}
	w := s.link.write
	logger := s.logger.WithField("on", e.on)
	c.tasks.Go(c.ctx, "write-"+e.slot.Key(), func(context.Context) {
		if err := w.Write(payload, false); err != nil {
			logger.WithField("error", err).Error("Failed to write actuator state")
			return
		}
		logger.Info("Actuator state written")
	})
}

func (c *Coordinator) onShutdown(done chan struct{}) {
	c.logger.Info("Shutting down bridge...")
	c.closing = true
	c.cancelScanRestart()
	c.stopScanning()

	var pending groutine.Group
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		switch s.state {
		case Connected:
			s.logger.Info("Disconnecting device")
			l := s.reset()
			pending.Go(context.Background(), "shutdown-disconnect-"+s.slot.Key(), func(context.Context) {
				if err := l.client.Disconnect(); err != nil {
					c.logger.WithField("error", err).Error("Error disconnecting device")
				}
			})
		case Connecting:
			s.reset()
		}
	}
	c.publishStatus()

	groutine.Go(context.Background(), "shutdown-wait", func(ctx context.Context) {
		_ = pending.Wait(ctx)
		c.logger.Info("All BLE devices disconnected")
		close(done)
	})
}

// teardown abandons every session when the loop exits without a Shutdown.
func (c *Coordinator) teardown() {
	c.cancelScanRestart()
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if l := pair.Value.reset(); l != nil {
			_ = l.client.Disconnect()
		}
	}

	wait, cancel := context.WithTimeout(context.Background(), teardownWait)
	defer cancel()
	if err := c.tasks.Wait(wait); err != nil {
		c.logger.WithField("error", err).Warn("Background tasks still running after teardown")
	}
	c.logger.Info("Bridge coordinator stopped")
}

// startScanning starts the shared scanner if the radio is on, some slot is
// Idle and no slot is Connecting. It is called after every transition out of
// Connecting, so a deferred scan always gets re-evaluated.
func (c *Coordinator) startScanning() {
	switch {
	case c.closing:
		return
	case c.scanning:
		c.logger.Debug("Already scanning")
		return
	case c.power != device.PoweredOn:
		c.logger.WithField("state", c.power).Debug("Radio not powered on, not scanning")
		return
	case !c.needsScan():
		c.logger.Info("All devices connected, no need to scan")
		return
	case c.anyConnecting():
		c.logger.Debug("Connection attempt in progress, deferring scan")
		return
	}

	c.logger.WithField("service_uuid", c.cfg.ServiceUUID).Info("Starting BLE scan...")
	if err := c.radio.StartScan(c.cfg.ServiceUUID, true); err != nil {
		c.logger.WithField("error", err).Error("Failed to start scanning")
		c.scanning = false
		c.publishStatus()
		return
	}
	c.scanning = true
	c.publishStatus()
}

// stopScanning clears the flag immediately, without waiting for the radio to
// acknowledge the stop.
func (c *Coordinator) stopScanning() {
	if !c.scanning {
		return
	}
	c.logger.Info("Stopping BLE scan")
	c.scanning = false
	if err := c.radio.StopScan(); err != nil {
		c.logger.WithField("error", err).Warn("Failed to stop scanning")
	}
	c.publishStatus()
}

func (c *Coordinator) scheduleScanRestart() {
	c.cancelScanRestart()
	seq := c.restartSeq
	c.restart = time.AfterFunc(c.cfg.ScanRestartDelay, func() {
		c.post(scanRestartDue{seq: seq})
	})
}

func (c *Coordinator) cancelScanRestart() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	c.restartSeq++
}

func (c *Coordinator) firstMatch(name string) *session {
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.matches(name) {
			return pair.Value
		}
	}
	return nil
}

func (c *Coordinator) needsScan() bool {
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.state == Idle {
			return true
		}
	}
	return false
}

func (c *Coordinator) anyConnecting() bool {
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.state == Connecting {
			return true
		}
	}
	return false
}

func (c *Coordinator) closeLink(slot Slot, l *link) {
	c.tasks.Go(c.ctx, "close-"+slot.Key(), func(context.Context) {
		if err := l.client.Disconnect(); err != nil {
			c.logger.WithFields(logrus.Fields{
				"slot":  slot,
				"error": err,
			}).Warn("Failed to close transport")
		}
	})
}

func (c *Coordinator) buildStatus() Status {
	st := Status{
		Slots:    make([]SlotStatus, 0, c.sessions.Len()),
		Scanning: c.scanning,
	}
	for pair := c.sessions.Oldest(); pair != nil; pair = pair.Next() {
		st.Slots = append(st.Slots, pair.Value.status())
	}
	return st
}

func (c *Coordinator) publishStatus() {
	st := c.buildStatus()
	c.status.Store(&st)
	c.logger.WithField("status", st).Debug("Emitting status")
	c.pub.PublishStatus(st)
}
