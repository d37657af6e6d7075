//
//
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/radio"
)

// Event is one telemetry message. ID is monotonic per radio.
type Event struct {
	ID    int64                  `json:"id,omitempty"`
	Type  string                 `json:"type"`
	Data  map[string]interface{} `json:"data"`
	Radio string                 `json:"radio,omitempty"`
	at    time.Time
}

// Client is one SSE or websocket subscriber.
type Client struct {
	ID     string
	Radio  string
	LastID int64

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	send   func(Event) error
}

// Hub fans radio events out to subscribers and keeps a replay buffer per
// radio for Last-Event-ID resume.
//
// Lock order: h.mu before EventBuffer.mu.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	radioIDs map[string]*int64
	buffers  map[string]*EventBuffer
	snapshot func() interface{}

	config   *config.TimingConfig
	upgrader websocket.Upgrader
	nextID   atomic.Int64

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer is a bounded, time-limited ring of events for one radio.
type EventBuffer struct {
	mu        sync.RWMutex
	events    []Event
	capacity  int
	retention time.Duration
}

// NewHub creates a telemetry hub.
func NewHub(timingConfig *config.TimingConfig) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		radioIDs: make(map[string]*int64),
		buffers:  make(map[string]*EventBuffer),
		config:   timingConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// SetSnapshot installs the source of the registry snapshot sent in the
// ready event.
func (h *Hub) SetSnapshot(fn func() interface{}) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// PublishEvent implements radio.EventPublisher. It never blocks the
// dispatcher: slow clients lose events.
func (h *Hub) PublishEvent(ev radio.Event) {
	if err := h.PublishRadio(ev.Unit.String(), FromRadioEvent(ev)); err != nil {
		log.Printf("[WARN] telemetry %s: %v", ev.Unit, err)
	}
}

// FromRadioEvent converts a unit event to its telemetry form.
func FromRadioEvent(ev radio.Event) Event {
	data := map[string]interface{}{}
	if ev.Sequence != 0 {
		data["sequence"] = ev.Sequence
	}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}

	var typ string
	switch {
	case ev.Flags.Has(radio.EventFrame):
		typ = "frame"
		data["frame"] = ev.Frame
		data["bytes"] = len(ev.Frame)
	case ev.Flags.Has(radio.EventReceiveOpened):
		typ = "rxOpen"
	case ev.Flags.Has(radio.EventReceiveStarted):
		typ = "rxStart"
	case ev.Flags.Has(radio.EventReceiveStopped):
		typ = "rxStop"
	case ev.Flags.Has(radio.EventReceiveClosed):
		typ = "rxClose"
	case ev.Flags.Has(radio.EventTransmitQueued):
		typ = "txStart"
	case ev.Flags.Has(radio.EventTransmitDone):
		typ = "txDone"
	case ev.Flags&(radio.EventTransmitRejected|radio.EventTransmitTimeout|radio.EventTransmitStartFailed) != 0:
		typ = "txFailed"
		data["reason"] = ev.Flags.String()
	case ev.Flags.Has(radio.EventRadioShutdown):
		typ = "shutdown"
	default:
		typ = "fault"
		data["kind"] = ev.Flags.String()
	}
	return Event{Type: typ, Data: data}
}

// Publish assigns an ID, buffers the event when it belongs to a radio and
// offers it to every matching client.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return fmt.Errorf("telemetry hub stopped")
	default:
	}
	if event.ID == 0 {
		event.ID = h.getNextEventID(event.Radio)
	}
	event.at = time.Now()
	if event.Radio != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Radio == "" || event.Radio == "" || client.Radio == event.Radio {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.ctx.Done():
		case client.events <- event:
		default:
			log.Printf("[DEBUG] telemetry client %s slow, dropped %s", client.ID, event.Type)
		}
	}
	return nil
}

// PublishRadio publishes an event for a specific radio.
func (h *Hub) PublishRadio(radioID string, event Event) error {
	event.Radio = radioID
	return h.Publish(event)
}

// Subscribe serves an SSE stream until the request context ends. The
// radio query parameter filters by unit; Last-Event-ID resumes from the
// unit's replay buffer.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var mu sync.Mutex
	send := func(event Event) error {
		mu.Lock()
		defer mu.Unlock()
		return writeSSE(w, event)
	}
	lastID := parseLastID(r.Header.Get("Last-Event-ID"))
	return h.serve(ctx, r.URL.Query().Get("radio"), lastID, send)
}

// ServeWS upgrades the request to a websocket and streams events as JSON
// messages. Resume uses the lastEventId query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(event Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(event)
	}
	q := r.URL.Query()
	err = h.serve(ctx, q.Get("radio"), parseLastID(q.Get("lastEventId")), send)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return err
}

func parseLastID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func (h *Hub) serve(ctx context.Context, radioID string, lastID int64, send func(Event) error) error {
	clientCtx, cancel := context.WithCancel(ctx)
	depth := h.config.EventBufferSize
	if depth < 16 {
		depth = 16
	}
	client := &Client{
		ID:     fmt.Sprintf("client_%d", h.nextID.Add(1)),
		Radio:  radioID,
		LastID: lastID,
		ctx:    clientCtx,
		cancel: cancel,
		events: make(chan Event, depth),
		send:   send,
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		cancel()
		return fmt.Errorf("telemetry hub stopped")
	default:
	}
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	if err := h.sendReadyEvent(client); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}
	if lastID > 0 {
		if err := h.replayEvents(client, lastID); err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	for {
		select {
		case <-client.ctx.Done():
			return nil
		case event := <-client.events:
			// Skip live events already delivered by the replay.
			if event.Radio != "" && event.Radio == client.Radio && event.ID <= client.LastID {
				continue
			}
			if err := client.send(event); err != nil {
				return err
			}
			if event.Radio == client.Radio {
				client.LastID = event.ID
			}
		}
	}
}

func (h *Hub) sendReadyEvent(client *Client) error {
	h.mu.RLock()
	snap := h.snapshot
	h.mu.RUnlock()

	data := map[string]interface{}{}
	if snap != nil {
		data["snapshot"] = snap()
	}
	return client.send(Event{Type: "ready", Data: data, Radio: client.Radio})
}

func (h *Hub) replayEvents(client *Client, lastEventID int64) error {
	if client.Radio == "" {
		return nil
	}
	h.mu.RLock()
	buffer, exists := h.buffers[client.Radio]
	h.mu.RUnlock()
	if !exists {
		return nil
	}

	for _, event := range buffer.GetEventsAfter(lastEventID) {
		if err := client.send(event); err != nil {
			return err
		}
		client.LastID = event.ID
	}
	return nil
}

func writeSSE(w http.ResponseWriter, event Event) error {
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// getNextEventID returns the next monotonic event ID for a radio.
func (h *Hub) getNextEventID(radioID string) int64 {
	if radioID == "" {
		radioID = "global"
	}

	h.mu.RLock()
	counter, exists := h.radioIDs[radioID]
	h.mu.RUnlock()
	if exists {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, exists = h.radioIDs[radioID]
	if !exists {
		counter = new(int64)
		h.radioIDs[radioID] = counter
	}
	h.mu.Unlock()
	return atomic.AddInt64(counter, 1)
}

// bufferEvent adds an event to the per-radio buffer. Buffers are never
// removed, so the reference stays valid after h.mu is released.
func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, exists := h.buffers[event.Radio]
	if !exists {
		buffer = NewEventBuffer(h.config.EventBufferSize, h.config.EventBufferRetention)
		h.buffers[event.Radio] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event)
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval + h.config.HeartbeatJitter/2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeatTicker = ticker
	h.stopHeartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				_ = h.Publish(Event{
					Type: "heartbeat",
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects every client and stops the heartbeat.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
		h.mu.Unlock()

		h.wg.Wait()
	})
}

// NewEventBuffer creates an event buffer. A zero retention keeps events
// until they are pushed out by capacity.
func NewEventBuffer(capacity int, retention time.Duration) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:    make([]Event, 0, capacity),
		capacity:  capacity,
		retention: retention,
	}
}

// AddEvent appends an event, evicting the oldest past capacity.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event.at.IsZero() {
		event.at = time.Now()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

// GetEventsAfter returns retained events with an ID above lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var cutoff time.Time
	if b.retention > 0 {
		cutoff = time.Now().Add(-b.retention)
	}
	var result []Event
	for _, event := range b.events {
		if event.ID > lastID && !event.at.Before(cutoff) {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
