package websocket

import (
	"context"
	"encoding/json"
	"guardian/models"
	"guardian/services"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logrus.SetOutput(io.Discard)
}

type fakeCoordinator struct {
	mu         sync.Mutex
	situations []string
	media      []services.MediaHandle
	cancels    int
}

func (f *fakeCoordinator) Trigger(situation string, media services.MediaHandle) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.situations = append(f.situations, situation)
	f.media = append(f.media, media)
	return "session-ws"
}

func (f *fakeCoordinator) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeCoordinator) Snapshot() models.SessionSnapshot {
	return models.SessionSnapshot{SessionID: "idle"}
}

func (f *fakeCoordinator) triggered() ([]string, []services.MediaHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.situations...), append([]services.MediaHandle(nil), f.media...)
}

type counterMetrics struct {
	mu                      sync.Mutex
	connected, disconnected int
}

func (m *counterMetrics) ClientConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected++
}

func (m *counterMetrics) ClientDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected++
}

type inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

type device struct {
	t    *testing.T
	conn *websocket.Conn
}

// dial starts a hub behind an httptest server and connects one device to it.
func dial(t *testing.T, coordinator services.Coordinator) (*Hub, *device) {
	t.Helper()

	hub := NewHub(nil)
	if coordinator != nil {
		hub.AttachCoordinator(coordinator)
	}
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Serve(hub, w, r, "test-device"); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		hub.Shutdown()
		server.Close()
	})

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return hub, &device{t: t, conn: conn}
}

func (d *device) send(msgType string, data map[string]interface{}, requestID string) {
	d.t.Helper()
	require.NoError(d.t, d.conn.WriteJSON(models.WSRequest{Type: msgType, Data: data, RequestID: requestID}))
}

// next skips messages until one of msgType arrives.
func (d *device) next(msgType string) inbound {
	d.t.Helper()
	require.NoError(d.t, d.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg inbound
		require.NoError(d.t, d.conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestCurrentPositionWithoutDevices(t *testing.T) {
	hub := NewHub(nil)

	_, err := hub.CurrentPosition(context.Background(), services.DefaultPositionOptions())
	locErr := services.AsLocationError(err)
	require.NotNil(t, locErr)
	assert.Equal(t, services.LocationUnsupported, locErr.Kind)
	assert.Equal(t, "No connected device can share its location", locErr.Reason)
}

func TestHubWithoutClients(t *testing.T) {
	hub := NewHub(nil)

	assert.False(t, hub.ResolveLocation(models.WSLocationResponse{RequestID: "unknown"}))
	assert.Zero(t, hub.ClientCount())

	hub.OnSessionUpdate(models.SessionSnapshot{})
	hub.SendAudio(models.WSTypeAudioStop, nil)

	stats := hub.GetStats()
	assert.Zero(t, stats.TotalConnections)
	assert.Zero(t, stats.ActiveConnections)
	assert.Zero(t, stats.MessagesSent)
	assert.Zero(t, stats.PendingLocations)
}

func TestValidateWebSocketMessage(t *testing.T) {
	assert.Error(t, validateWebSocketMessage(models.WSRequest{}))
	assert.Error(t, validateWebSocketMessage(models.WSRequest{Type: models.WSRequestLocationResponse}))
	assert.Error(t, validateWebSocketMessage(models.WSRequest{Type: models.WSRequestMediaOpen}))
	assert.NoError(t, validateWebSocketMessage(models.WSRequest{Type: models.WSRequestTrigger}))
	assert.NoError(t, validateWebSocketMessage(models.WSRequest{Type: models.WSRequestCancel}))
}

func TestDeviceReceivesSnapshotOnConnect(t *testing.T) {
	_, dev := dial(t, &fakeCoordinator{})

	msg := dev.next(models.WSTypeSnapshot)
	var snap models.SessionSnapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, "idle", snap.SessionID)
}

func TestDeviceTriggersAndCancels(t *testing.T) {
	coordinator := &fakeCoordinator{}
	_, dev := dial(t, coordinator)

	dev.send(models.WSRequestTrigger, map[string]interface{}{"situation": "fell down the stairs"}, "req-1")
	msg := dev.next(models.WSTypeSuccess)
	assert.Equal(t, "req-1", msg.RequestID)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "session-ws", body["sessionId"])

	situations, media := coordinator.triggered()
	assert.Equal(t, []string{"fell down the stairs"}, situations)
	assert.Nil(t, media[0])

	dev.send(models.WSRequestCancel, nil, "req-2")
	msg = dev.next(models.WSTypeSuccess)
	assert.Equal(t, "req-2", msg.RequestID)
	coordinator.mu.Lock()
	assert.Equal(t, 1, coordinator.cancels)
	coordinator.mu.Unlock()
}

func TestDeviceTriggerWithoutCoordinator(t *testing.T) {
	_, dev := dial(t, nil)

	dev.send(models.WSRequestTrigger, map[string]interface{}{}, "")
	msg := dev.next(models.WSTypeError)

	var wsErr models.WSError
	require.NoError(t, json.Unmarshal(msg.Data, &wsErr))
	assert.Equal(t, models.WSErrorUnavailable, wsErr.Code)
}

func TestDeviceTriggerWithMedia(t *testing.T) {
	coordinator := &fakeCoordinator{}
	_, dev := dial(t, coordinator)

	dev.send(models.WSRequestTrigger, map[string]interface{}{"withMedia": true}, "")
	msg := dev.next(models.WSTypeError)
	var wsErr models.WSError
	require.NoError(t, json.Unmarshal(msg.Data, &wsErr))
	assert.Equal(t, models.WSErrorNoMedia, wsErr.Code)

	dev.send(models.WSRequestMediaOpen, map[string]interface{}{"tracks": []string{"audio"}}, "open")
	msg = dev.next(models.WSTypeSuccess)
	assert.Equal(t, "open", msg.RequestID)

	dev.send(models.WSRequestTrigger, map[string]interface{}{"withMedia": true}, "go")
	msg = dev.next(models.WSTypeSuccess)
	assert.Equal(t, "go", msg.RequestID)

	_, media := coordinator.triggered()
	require.Len(t, media, 1)
	assert.NotNil(t, media[0])
}

func TestDeviceAnswersLocationRequest(t *testing.T) {
	hub, dev := dial(t, nil)

	type result struct {
		coords models.Coordinates
		err    error
	}
	done := make(chan result, 1)
	go func() {
		coords, err := hub.CurrentPosition(context.Background(), services.DefaultPositionOptions())
		done <- result{coords, err}
	}()

	msg := dev.next(models.WSTypeLocationRequest)
	var request models.WSLocationRequest
	require.NoError(t, json.Unmarshal(msg.Data, &request))
	assert.True(t, request.EnableHighAccuracy)
	assert.Equal(t, int64(15000), request.TimeoutMs)

	dev.send(models.WSRequestLocationResponse, map[string]interface{}{
		"requestId": request.RequestID,
		"latitude":  40.7128,
		"longitude": -74.006,
	}, "")

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, models.Coordinates{Latitude: 40.7128, Longitude: -74.006}, res.coords)
	case <-time.After(2 * time.Second):
		t.Fatal("location request never resolved")
	}

	assert.Zero(t, hub.GetStats().PendingLocations)
	assert.False(t, hub.ResolveLocation(models.WSLocationResponse{RequestID: request.RequestID}))
}

func TestDeviceDeniesLocation(t *testing.T) {
	hub, dev := dial(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := hub.CurrentPosition(context.Background(), services.DefaultPositionOptions())
		done <- err
	}()

	msg := dev.next(models.WSTypeLocationRequest)
	var request models.WSLocationRequest
	require.NoError(t, json.Unmarshal(msg.Data, &request))

	dev.send(models.WSRequestLocationResponse, map[string]interface{}{
		"requestId": request.RequestID,
		"error":     map[string]interface{}{"code": 1, "message": ""},
	}, "")

	select {
	case err := <-done:
		assert.Equal(t, services.LocationPermissionDenied, services.AsLocationError(err).Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("location request never resolved")
	}
}

func TestLocationRequestTimesOut(t *testing.T) {
	hub, _ := dial(t, nil)

	opts := services.DefaultPositionOptions()
	opts.Timeout = 20 * time.Millisecond
	_, err := hub.CurrentPosition(context.Background(), opts)
	assert.Equal(t, services.LocationTimeout, services.AsLocationError(err).Kind)
}

func TestHubTracksConnections(t *testing.T) {
	metrics := &counterMetrics{}
	hub := NewHub(metrics)
	go hub.Run()
	defer hub.Shutdown()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = Serve(hub, w, r, "test-device")
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(models.WSRequest{Type: models.WSRequestPing, RequestID: "p"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pong inbound
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, models.WSTypePong, pong.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, int64(1), stats.MessagesReceived)

	require.Eventually(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return metrics.connected == 1 && metrics.disconnected == 1
	}, time.Second, 5*time.Millisecond)
}
