// Package hub fans coordinator output out to websocket viewers and feeds
// their commands back in.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/bridge"
	"github.com/srg/solebridge/internal/groutine"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	EventStatus        = "ble-connection-status"
	EventReadingPrefix = "pressure-data-"

	DefaultQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// Frame is the envelope of every message on the viewer channel, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Joiner delivers the current status to a new viewer, ordered with respect to broadcasts.
type Joiner interface {
	Join(deliver func(bridge.Status)) error
}

// CommandHandler executes a viewer command.
type CommandHandler interface {
	Handle(ctx context.Context, name string, payload json.RawMessage) error
}

// Options configures a Hub.
type Options struct {
	// QueueSize bounds each viewer's outbound queue; the oldest frame is dropped when full.
	QueueSize uint32
	// OriginPatterns are passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
	// CommandRate limits commands per viewer per second; zero disables the limit.
	CommandRate  float64
	CommandBurst int
}

// Hub implements bridge.Publisher over websocket connections.
type Hub struct {
	opts   Options
	logger *logrus.Logger

	viewers *hashmap.Map[uint64, *viewer]
	nextID  atomic.Uint64
	closed  atomic.Bool

	mu       sync.RWMutex
	joiner   Joiner
	commands CommandHandler
}

type viewer struct {
	id      uint64
	remote  string
	conn    *websocket.Conn
	queue   mpmc.RichOverlappedRingBuffer[[]byte]
	wake    chan struct{}
	dropped atomic.Uint64
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// New creates a hub with no viewers.
func New(opts Options, logger *logrus.Logger) *Hub {
	if opts.QueueSize == 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		opts:    opts,
		logger:  logger,
		viewers: hashmap.New[uint64, *viewer](),
	}
}

// Bind attaches the status source and command sink. It must be called before
// the hub serves its first connection.
func (h *Hub) Bind(joiner Joiner, commands CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joiner = joiner
	h.commands = commands
}

func (h *Hub) bound() (Joiner, CommandHandler) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joiner, h.commands
}

// PublishStatus broadcasts st to every viewer.
func (h *Hub) PublishStatus(st bridge.Status) {
	h.broadcast(EventStatus, st)
}

// PublishReading broadcasts r under the per-slot event name.
func (h *Hub) PublishReading(r bridge.Reading) {
	h.broadcast(EventReadingPrefix+r.Slot.Key(), r.Values)
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	return h.viewers.Len()
}

func (h *Hub) broadcast(event string, data any) {
	msg, err := encodeFrame(event, data)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"event": event,
			"error": err,
		}).Error("Failed to encode frame")
		return
	}
	h.viewers.Range(func(_ uint64, v *viewer) bool {
		v.enqueue(msg)
		return true
	})
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// ServeHTTP upgrades the request and serves the viewer until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	joiner, commands := h.bound()
	if joiner == nil || commands == nil {
		http.Error(w, "bridge not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"remote": r.RemoteAddr,
			"error":  err,
		}).Warn("Websocket accept failed")
		return
	}

	id := h.nextID.Add(1)
	v := &viewer{
		id:     id,
		remote: r.RemoteAddr,
		conn:   conn,
		queue:  mpmc.NewOverlappedRingBuffer[[]byte](h.opts.QueueSize),
		wake:   make(chan struct{}, 1),
		logger: h.logger.WithFields(logrus.Fields{"viewer": id, "remote": r.RemoteAddr}),
	}
	if h.opts.CommandRate > 0 {
		v.limiter = rate.NewLimiter(rate.Limit(h.opts.CommandRate), max(h.opts.CommandBurst, 1))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// register before joining so no broadcast falls between the snapshot and the stream
	h.viewers.Set(id, v)
	defer h.remove(v)
	v.logger.Info("Viewer connected")

	groutine.Go(ctx, fmt.Sprintf("viewer-%d-write", id), func(ctx context.Context) {
		defer cancel()
		h.writeLoop(ctx, v)
	})

	if err := joiner.Join(func(st bridge.Status) {
		msg, err := encodeFrame(EventStatus, st)
		if err == nil {
			v.enqueue(msg)
		}
	}); err != nil {
		v.logger.WithField("error", err).Warn("Failed to deliver initial status")
	}

	h.readLoop(ctx, v, commands)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) remove(v *viewer) {
	v.logger.WithField("dropped_frames", v.dropped.Load()).Info("Viewer disconnected")
	h.viewers.Del(v.id)
}

func (h *Hub) readLoop(ctx context.Context, v *viewer, commands CommandHandler) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, v.conn, &f); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				v.logger.WithField("error", err).Debug("Viewer read failed")
			}
			return
		}
		if f.Event == "" {
			v.logger.Warn("Ignoring frame without event name")
			continue
		}
		if v.limiter != nil && !v.limiter.Allow() {
			v.logger.WithField("command", f.Event).Warn("Viewer command rate exceeded, dropping command")
			continue
		}

		v.logger.WithField("command", f.Event).Debug("Viewer command")
		if err := commands.Handle(ctx, f.Event, f.Data); err != nil {
			v.logger.WithFields(logrus.Fields{
				"command": f.Event,
				"error":   err,
			}).Warn("Viewer command rejected")
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, v *viewer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.wake:
		}

		for !v.queue.IsEmpty() {
			msg, err := v.queue.Dequeue()
			if err != nil {
				break
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = v.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					v.logger.WithFields(logrus.Fields{
						"goroutine": groutine.GetName(ctx),
						"error":     err,
					}).Warn("Viewer write failed")
				}
				return
			}
		}
	}
}

func (v *viewer) enqueue(msg []byte) {
	overwrites, err := v.queue.EnqueueM(msg)
	if err != nil {
		v.logger.WithField("error", err).Warn("Failed to queue frame")
		return
	}
	if overwrites > 0 {
		v.dropped.Add(uint64(overwrites))
	}
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.viewers.Range(func(_ uint64, v *viewer) bool {
		_ = v.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})
}
