package websocket

import (
	"context"
	"guardian/models"
	"guardian/services"
	"guardian/utils"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HubMetrics is told when device sockets come and go.
type HubMetrics interface {
	ClientConnected()
	ClientDisconnected()
}

// Hub connects the device sockets to the sequencer. It publishes session
// snapshots and audio to every device, and asks devices for location fixes.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	coordinator services.Coordinator
	metrics     HubMetrics

	// Location requests waiting for a device answer
	pending      map[string]chan models.WSLocationResponse
	pendingMutex sync.Mutex

	// Hub statistics
	stats HubStats

	// Mutex for thread safety
	mutex sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type HubStats struct {
	TotalConnections  int64
	ActiveConnections int
	MessagesSent      int64
	MessagesReceived  int64
	BytesReceived     int64
	StartTime         time.Time

	mutex sync.RWMutex
}

func NewHub(metrics HubMetrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		metrics:    metrics,
		pending:    make(map[string]chan models.WSLocationResponse),
		stats: HubStats{
			StartTime: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// AttachCoordinator wires the sequencer in after both sides are built.
func (h *Hub) AttachCoordinator(coordinator services.Coordinator) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.coordinator = coordinator
}

func (h *Hub) getCoordinator() services.Coordinator {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.coordinator
}

func (h *Hub) Run() {
	logrus.Info("WebSocket Hub starting...")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.ctx.Done():
			logrus.Info("WebSocket Hub shutting down...")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	active := len(h.clients)
	coordinator := h.coordinator
	h.mutex.Unlock()

	h.stats.mutex.Lock()
	h.stats.ActiveConnections = active
	h.stats.TotalConnections++
	h.stats.mutex.Unlock()

	if h.metrics != nil {
		h.metrics.ClientConnected()
	}

	// New devices render the current state straight away.
	if coordinator != nil {
		client.SendMessage(snapshotMessage(coordinator.Snapshot()))
	}

	logrus.Infof("Client registered: %s (Total: %d)", client.connectionID, active)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closeSend()
	}
	active := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}

	h.stats.mutex.Lock()
	h.stats.ActiveConnections = active
	h.stats.mutex.Unlock()

	if h.metrics != nil {
		h.metrics.ClientDisconnected()
	}

	logrus.Infof("Client unregistered: %s (Total: %d)", client.connectionID, active)
}

// broadcast sends message to every connected device and returns how many
// accepted it.
func (h *Hub) broadcast(message models.WSMessage) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client.SendMessage(message) {
			delivered++
		}
	}

	h.stats.mutex.Lock()
	h.stats.MessagesSent += int64(delivered)
	h.stats.mutex.Unlock()

	return delivered
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// =================== SEQUENCER OUTPUTS ===================

// OnSessionUpdate publishes a sequencer snapshot to every device.
func (h *Hub) OnSessionUpdate(snapshot models.SessionSnapshot) {
	h.broadcast(snapshotMessage(snapshot))
}

// SendAudio forwards playback commands to every device.
func (h *Hub) SendAudio(msgType string, clip *models.WSAudioClip) {
	message := models.WSMessage{
		Type:      msgType,
		Timestamp: time.Now(),
	}
	if clip != nil {
		message.Data = clip
	}
	h.broadcast(message)
}

func snapshotMessage(snapshot models.SessionSnapshot) models.WSMessage {
	return models.WSMessage{
		Type:      models.WSTypeSnapshot,
		Data:      snapshot.ForDisplay(),
		Timestamp: time.Now(),
	}
}

// =================== LOCATION ===================

// CurrentPosition asks the connected devices for a fix and returns the first
// answer.
func (h *Hub) CurrentPosition(ctx context.Context, opts services.PositionOptions) (models.Coordinates, error) {
	if h.ClientCount() == 0 {
		return models.Coordinates{}, services.NewLocationError(services.LocationUnsupported, "No connected device can share its location")
	}

	requestID := utils.GenerateUUID()
	answers := make(chan models.WSLocationResponse, 1)

	h.pendingMutex.Lock()
	h.pending[requestID] = answers
	h.pendingMutex.Unlock()

	defer func() {
		h.pendingMutex.Lock()
		delete(h.pending, requestID)
		h.pendingMutex.Unlock()
	}()

	delivered := h.broadcast(models.WSMessage{
		Type: models.WSTypeLocationRequest,
		Data: models.WSLocationRequest{
			RequestID:          requestID,
			EnableHighAccuracy: opts.HighAccuracy,
			TimeoutMs:          opts.Timeout.Milliseconds(),
			MaximumAgeMs:       opts.MaximumAge.Milliseconds(),
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if delivered == 0 {
		return models.Coordinates{}, services.NewLocationError(services.LocationUnsupported, "No connected device can share its location")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case answer := <-answers:
		if answer.Error != nil {
			return models.Coordinates{}, services.LocationErrorFromCode(answer.Error.Code, answer.Error.Message)
		}
		if !utils.IsValidCoordinate(answer.Latitude, answer.Longitude) {
			return models.Coordinates{}, services.NewLocationError(services.LocationPositionUnavailable, "")
		}
		return models.Coordinates{Latitude: answer.Latitude, Longitude: answer.Longitude}, nil

	case <-ctx.Done():
		return models.Coordinates{}, services.AsLocationError(ctx.Err())
	}
}

// ResolveLocation hands a device answer to the waiting request. Late or
// duplicate answers are dropped.
func (h *Hub) ResolveLocation(answer models.WSLocationResponse) bool {
	h.pendingMutex.Lock()
	answers, ok := h.pending[answer.RequestID]
	h.pendingMutex.Unlock()
	if !ok {
		return false
	}

	select {
	case answers <- answer:
		return true
	default:
		return false
	}
}

// =================== STATS ===================

func (h *Hub) GetStats() models.WSHubStats {
	h.stats.mutex.RLock()
	defer h.stats.mutex.RUnlock()

	h.pendingMutex.Lock()
	pending := len(h.pending)
	h.pendingMutex.Unlock()

	return models.WSHubStats{
		TotalConnections:  h.stats.TotalConnections,
		ActiveConnections: h.stats.ActiveConnections,
		MessagesSent:      h.stats.MessagesSent,
		MessagesReceived:  h.stats.MessagesReceived,
		BytesReceived:     h.stats.BytesReceived,
		PendingLocations:  pending,
		Uptime:            time.Since(h.stats.StartTime),
	}
}

func (h *Hub) recordReceived(bytes int) {
	h.stats.mutex.Lock()
	h.stats.MessagesReceived++
	h.stats.BytesReceived += int64(bytes)
	h.stats.mutex.Unlock()
}

func (h *Hub) Shutdown() {
	logrus.Info("Shutting down WebSocket Hub...")

	h.cancel()

	// Close all client connections
	h.mutex.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		client.closeSend()
	}
	h.mutex.Unlock()

	logrus.Info("WebSocket Hub shutdown complete")
}
