package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/solebridge/internal/device"
)

// FakeAdapter is an in-memory device.Adapter. Tests drive it with SetPower,
// Discover and FailScan and inspect the scan calls it received.
type FakeAdapter struct {
	// InitialPower is reported from Open. Defaults to PoweredOn.
	InitialPower device.PowerState
	// StartScanErr, when set, is returned by every StartScan call.
	StartScanErr error

	mu         sync.Mutex
	handler    device.EventHandler
	scanning   bool
	scanStarts int
	scanStops  int
	closed     bool
	opened     chan struct{}
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		InitialPower: device.PoweredOn,
		opened:       make(chan struct{}),
	}
}

func (f *FakeAdapter) Open(_ context.Context, handler device.EventHandler) error {
	f.mu.Lock()
	if f.handler != nil {
		f.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	f.handler = handler
	f.mu.Unlock()

	handler(device.PowerStateChanged{State: f.InitialPower})
	close(f.opened)
	return nil
}

// Opened is closed once Open has returned.
func (f *FakeAdapter) Opened() <-chan struct{} {
	return f.opened
}

func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.scanning = false
	return nil
}

func (f *FakeAdapter) StartScan(serviceUUID string, _ bool) error {
	if device.NormalizeUUID(serviceUUID) == "" {
		return fmt.Errorf("invalid service UUID %q", serviceUUID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanStarts++
	if f.StartScanErr != nil {
		return f.StartScanErr
	}
	f.scanning = true
	return nil
}

func (f *FakeAdapter) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanStops++
	f.scanning = false
	return nil
}

// SetPower reports a power transition to the handler.
func (f *FakeAdapter) SetPower(state device.PowerState) {
	if state != device.PoweredOn {
		f.mu.Lock()
		f.scanning = false
		f.mu.Unlock()
	}
	f.emit(device.PowerStateChanged{State: state})
}

// Discover reports peer as if it had been seen by the running scan.
func (f *FakeAdapter) Discover(peer device.Peer) {
	f.emit(device.PeerDiscovered{Peer: peer})
}

// FailScan ends the running scan with err.
func (f *FakeAdapter) FailScan(err error) {
	f.mu.Lock()
	f.scanning = false
	f.mu.Unlock()
	f.emit(device.ScanStopped{Err: err})
}

func (f *FakeAdapter) emit(ev device.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (f *FakeAdapter) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

func (f *FakeAdapter) ScanStarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanStarts
}

func (f *FakeAdapter) ScanStops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanStops
}

func (f *FakeAdapter) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakePeer is a discoverable device. Connect returns Client unless ConnectErr
// is set; a non-nil Gate makes Connect block until the gate is closed.
type FakePeer struct {
	name    string
	address string
	rssi    int

	mu         sync.Mutex
	Client     *FakeClient
	ConnectErr error
	Gate       chan struct{}
	connects   int
	entered    chan struct{}
}

func NewFakePeer(name, address string) *FakePeer {
	return &FakePeer{
		name:    name,
		address: address,
		rssi:    -60,
		Client:  NewFakeClient(address),
		entered: make(chan struct{}, 16),
	}
}

// WithRSSI sets the signal strength reported with the advertisement.
func (p *FakePeer) WithRSSI(rssi int) *FakePeer {
	p.rssi = rssi
	return p
}

func (p *FakePeer) Name() string    { return p.name }
func (p *FakePeer) Address() string { return p.address }
func (p *FakePeer) RSSI() int       { return p.rssi }

func (p *FakePeer) Connect(ctx context.Context) (device.Client, error) {
	p.mu.Lock()
	p.connects++
	gate := p.Gate
	err := p.ConnectErr
	client := p.Client
	p.mu.Unlock()

	select {
	case p.entered <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	client.open()
	return client, nil
}

// Connecting receives a value every time Connect is entered.
func (p *FakePeer) Connecting() <-chan struct{} {
	return p.entered
}

func (p *FakePeer) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// WithSensorProfile gives the peer the service, a notify characteristic and
// an optional write characteristic (skipped when writeUUID is empty).
func (p *FakePeer) WithSensorProfile(serviceUUID, notifyUUID, writeUUID string) *FakePeer {
	svc := &FakeService{UUIDValue: serviceUUID}
	svc.Characteristics = append(svc.Characteristics, NewFakeCharacteristic(notifyUUID, device.PropRead|device.PropNotify))
	if writeUUID != "" {
		svc.Characteristics = append(svc.Characteristics, NewFakeCharacteristic(writeUUID, device.PropWrite|device.PropWriteWithoutResponse))
	}
	p.Client.Service = svc
	return p
}

// FakeClient is an open transport. Drop simulates an unsolicited link loss.
type FakeClient struct {
	address string

	mu              sync.Mutex
	Service         *FakeService
	DiscoverErr     error
	DisconnectErr   error
	connected       bool
	disconnectCalls int
	done            chan struct{}
	once            sync.Once
}

func NewFakeClient(address string) *FakeClient {
	return &FakeClient{address: address, done: make(chan struct{})}
}

func (c *FakeClient) open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
}

func (c *FakeClient) Address() string { return c.address }

func (c *FakeClient) DiscoverService(uuid string) (device.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.DiscoverErr != nil {
		return nil, c.DiscoverErr
	}
	if c.Service == nil || !device.SameUUID(c.Service.UUIDValue, uuid) {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return c.Service, nil
}

func (c *FakeClient) Disconnected() <-chan struct{} {
	return c.done
}

func (c *FakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *FakeClient) Disconnect() error {
	c.mu.Lock()
	c.disconnectCalls++
	err := c.DisconnectErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.Drop()
	return nil
}

// Drop closes the link as if the peer went away.
func (c *FakeClient) Drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *FakeClient) DisconnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectCalls
}

// Characteristic returns the characteristic with uuid, or nil.
func (c *FakeClient) Characteristic(uuid string) *FakeCharacteristic {
	c.mu.Lock()
	svc := c.Service
	c.mu.Unlock()
	if svc == nil {
		return nil
	}
	for _, ch := range svc.Characteristics {
		if device.SameUUID(ch.UUIDValue, uuid) {
			return ch
		}
	}
	return nil
}

type FakeService struct {
	UUIDValue       string
	Characteristics []*FakeCharacteristic
	DiscoverErr     error
}

func (s *FakeService) UUID() string { return device.NormalizeUUID(s.UUIDValue) }

func (s *FakeService) DiscoverCharacteristics(uuids ...string) ([]device.Characteristic, error) {
	if s.DiscoverErr != nil {
		return nil, s.DiscoverErr
	}
	var result []device.Characteristic
	for _, ch := range s.Characteristics {
		for _, u := range uuids {
			if device.SameUUID(ch.UUIDValue, u) {
				result = append(result, ch)
				break
			}
		}
	}
	return result, nil
}

// FakeCharacteristic records writes and lets tests push notifications.
type FakeCharacteristic struct {
	UUIDValue    string
	Props        device.Properties
	SubscribeErr error
	WriteErr     error
	// SubscribeGate, when set, makes Subscribe block until it is closed.
	SubscribeGate chan struct{}

	mu         sync.Mutex
	handler    func([]byte)
	subscribed bool
	writes     [][]byte
	written    chan []byte
	entered    chan struct{}
}

func NewFakeCharacteristic(uuid string, props device.Properties) *FakeCharacteristic {
	return &FakeCharacteristic{
		UUIDValue: uuid,
		Props:     props,
		written:   make(chan []byte, 16),
		entered:   make(chan struct{}, 4),
	}
}

func (c *FakeCharacteristic) UUID() string                  { return device.NormalizeUUID(c.UUIDValue) }
func (c *FakeCharacteristic) Properties() device.Properties { return c.Props }

func (c *FakeCharacteristic) OnData(handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *FakeCharacteristic) Subscribe() error {
	c.mu.Lock()
	gate := c.SubscribeGate
	c.mu.Unlock()

	select {
	case c.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.subscribed = true
	return nil
}

func (c *FakeCharacteristic) Write(data []byte, _ bool) error {
	c.mu.Lock()
	err := c.WriteErr
	if err == nil {
		c.writes = append(c.writes, append([]byte(nil), data...))
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	select {
	case c.written <- append([]byte(nil), data...):
	default:
	}
	return nil
}

// Notify pushes data to the registered handler if notifications are enabled.
func (c *FakeCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	on := c.subscribed
	c.mu.Unlock()
	if !on || h == nil {
		return false
	}
	h(data)
	return true
}

// Subscribing receives a value every time Subscribe is entered.
func (c *FakeCharacteristic) Subscribing() <-chan struct{} {
	return c.entered
}

func (c *FakeCharacteristic) IsSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// Written receives a copy of every successful write.
func (c *FakeCharacteristic) Written() <-chan []byte {
	return c.written
}
