package websocket

import (
	"context"
	"encoding/json"
	"guardian/models"
	"guardian/services"
	"guardian/utils"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Binary frames carry media chunks.
	maxMessageSize = 1 << 20

	// Buffer size for client send channel
	sendBufferSize = 256

	// Text requests per second, with a small burst
	requestRate  = 10
	requestBurst = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	// WebSocket connection
	conn *websocket.Conn

	// Device information
	deviceID string

	// Connection metadata
	connectionID string
	connectedAt  time.Time
	lastPing     time.Time
	ipAddress    string
	userAgent    string

	// Buffered channel of outbound messages
	send   chan models.WSMessage
	mu     sync.Mutex
	closed bool

	// Hub reference
	hub *Hub

	rateLimiter *rate.Limiter

	// Media stream opened by the device, if any
	stream   *services.DeviceStream
	streamMu sync.Mutex

	pingFailCount int

	// Context for cleanup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(conn *websocket.Conn, hub *Hub, r *http.Request, deviceID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		conn:         conn,
		hub:          hub,
		deviceID:     deviceID,
		send:         make(chan models.WSMessage, sendBufferSize),
		connectionID: utils.GenerateUUID(),
		connectedAt:  time.Now(),
		lastPing:     time.Now(),
		ipAddress:    getClientIP(r),
		userAgent:    r.UserAgent(),
		rateLimiter:  rate.NewLimiter(requestRate, requestBurst),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Serve upgrades the request and runs the client until the socket closes.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, deviceID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, hub, r, deviceID)
	hub.register <- client

	logrus.WithFields(logrus.Fields{
		"connectionId": client.connectionID,
		"deviceId":     deviceID,
		"ip":           client.ipAddress,
	}).Info("Device connected")

	go client.WritePump()
	go client.ReadPump()
	return nil
}

func (c *Client) ReadPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.handlePong()
		return nil
	})

	for {
		messageType, messageData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket error for connection %s: %v", c.connectionID, err)
			}
			return
		}

		c.hub.recordReceived(len(messageData))

		if messageType == websocket.BinaryMessage {
			c.handleChunk(messageData)
			continue
		}

		if !c.rateLimiter.Allow() {
			c.sendError(models.WSErrorRateLimit, "Rate limit exceeded")
			continue
		}

		c.handleMessage(messageData)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logrus.Errorf("Write error for connection %s: %v", c.connectionID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.pingFailCount++
				if c.pingFailCount > 3 {
					logrus.Warnf("Ping failed for connection %s, disconnecting", c.connectionID)
					return
				}
			}
		}
	}
}

func (c *Client) handleMessage(messageData []byte) {
	var wsRequest models.WSRequest
	if err := json.Unmarshal(messageData, &wsRequest); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid message format")
		return
	}
	if err := validateWebSocketMessage(wsRequest); err != nil {
		message := err.Error()
		if serviceErr, ok := utils.GetServiceError(err); ok {
			message = serviceErr.Message
		}
		c.sendError(models.WSErrorInvalidMessage, message)
		return
	}

	switch wsRequest.Type {
	case models.WSRequestTrigger:
		c.handleTrigger(wsRequest)
	case models.WSRequestCancel:
		c.handleCancel(wsRequest)
	case models.WSRequestLocationResponse:
		c.handleLocationResponse(wsRequest)
	case models.WSRequestMediaOpen:
		c.handleMediaOpen(wsRequest)
	case models.WSRequestPing:
		c.handlePing(wsRequest)
	default:
		c.sendError(models.WSErrorInvalidMessage, "Unknown message type")
	}
}

func (c *Client) handleTrigger(request models.WSRequest) {
	var triggerReq models.WSTriggerRequest
	if err := c.unmarshalData(request.Data, &triggerReq); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid trigger data")
		return
	}

	coordinator := c.hub.getCoordinator()
	if coordinator == nil {
		c.sendError(models.WSErrorUnavailable, "Emergency service is not ready")
		return
	}

	var media services.MediaHandle
	if triggerReq.WithMedia {
		stream := c.currentStream()
		if stream == nil || !stream.Live() {
			c.sendError(models.WSErrorNoMedia, "No live media stream; open one with media.open first")
			return
		}
		media = stream
	}

	// The sequencer publishes to the hub, so it must not run on a path that
	// holds hub state. ReadPump holds none.
	sessionID := coordinator.Trigger(triggerReq.Situation, media)
	if sessionID == "" {
		c.sendError(models.WSErrorUnavailable, "Emergency service is shutting down")
		return
	}

	c.sendResponse(models.WSTypeSuccess, map[string]interface{}{
		"message":   "Emergency triggered",
		"sessionId": sessionID,
	}, request.RequestID)
}

func (c *Client) handleCancel(request models.WSRequest) {
	coordinator := c.hub.getCoordinator()
	if coordinator == nil {
		c.sendError(models.WSErrorUnavailable, "Emergency service is not ready")
		return
	}

	coordinator.Cancel()
	c.sendSuccess("Emergency cancelled", request.RequestID)
}

func (c *Client) handleLocationResponse(request models.WSRequest) {
	var answer models.WSLocationResponse
	if err := c.unmarshalData(request.Data, &answer); err != nil || answer.RequestID == "" {
		c.sendError(models.WSErrorInvalidMessage, "Invalid location response")
		return
	}

	if !c.hub.ResolveLocation(answer) {
		logrus.WithFields(logrus.Fields{
			"connectionId": c.connectionID,
			"requestId":    answer.RequestID,
		}).Debug("Dropped late location response")
	}
}

func (c *Client) handleMediaOpen(request models.WSRequest) {
	var openReq models.WSMediaOpenRequest
	if err := c.unmarshalData(request.Data, &openReq); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid media data")
		return
	}

	kinds := openReq.Tracks
	if len(kinds) == 0 {
		kinds = []string{"video", "audio"}
	}

	stream := services.NewDeviceStream(kinds, services.DeviceStreamHooks{
		OnRecordingChange: func(recording bool, timeslice time.Duration) {
			c.SendMessage(models.WSMessage{
				Type: models.WSTypeMediaRecording,
				Data: models.WSMediaRecording{
					Recording:   recording,
					TimesliceMs: timeslice.Milliseconds(),
				},
				Timestamp: time.Now(),
			})
		},
		OnTrackStop: func(kind string) {
			c.SendMessage(models.WSMessage{
				Type:      models.WSTypeMediaStop,
				Data:      models.WSMediaStop{Kind: kind},
				Timestamp: time.Now(),
			})
		},
	})

	c.streamMu.Lock()
	c.stream = stream
	c.streamMu.Unlock()

	c.sendResponse(models.WSTypeSuccess, map[string]interface{}{
		"message":  "Media stream opened",
		"streamId": stream.ID(),
		"tracks":   kinds,
	}, request.RequestID)
}

func (c *Client) handleChunk(chunk []byte) {
	stream := c.currentStream()
	if stream == nil || !stream.Push(chunk) {
		logrus.WithField("connectionId", c.connectionID).Debug("Dropped media chunk with no active recorder")
	}
}

func (c *Client) currentStream() *services.DeviceStream {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	return c.stream
}

func (c *Client) handlePing(request models.WSRequest) {
	c.SendMessage(models.WSMessage{
		Type:      models.WSTypePong,
		RequestID: request.RequestID,
		Timestamp: time.Now(),
	})
}

func (c *Client) handlePong() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.lastPing = time.Now()
	c.pingFailCount = 0
}

func (c *Client) sendError(code, message string) {
	c.SendMessage(createErrorResponse(code, message))
}

func (c *Client) sendSuccess(message, requestID string) {
	c.SendMessage(createSuccessResponse(message, requestID))
}

func (c *Client) sendResponse(msgType string, data map[string]interface{}, requestID string) {
	if requestID != "" {
		data["requestId"] = requestID
	}
	c.SendMessage(models.WSMessage{
		Type:      msgType,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// SendMessage queues message for the device and reports whether it was
// accepted. It never blocks.
func (c *Client) SendMessage(message models.WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		// Channel full, likely client disconnected
		logrus.Warnf("Send channel full for connection %s", c.connectionID)
		return false
	}
}

// closeSend is called by the hub once the client is removed.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) cleanup() {
	c.cancel()

	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
		c.closeSend()
	}

	// A stream held by the sequencer stays with it until teardown; chunks
	// simply stop arriving.
	c.streamMu.Lock()
	c.stream = nil
	c.streamMu.Unlock()

	c.conn.Close()

	logrus.WithFields(logrus.Fields{
		"connectionId": c.connectionID,
		"deviceId":     c.deviceID,
		"connected":    utils.FormatDuration(time.Since(c.connectedAt)),
	}).Info("Device disconnected")
}

func (c *Client) unmarshalData(data map[string]interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	return r.RemoteAddr
}
