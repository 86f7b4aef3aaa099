package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsAlerts(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()

	conn := dialHub(t, srv)

	// Registration races the broadcast; give the hub a beat.
	time.Sleep(50 * time.Millisecond)

	alert := &models.Alert{
		ID:             7,
		Event:          models.Event{DeviceID: "cam01", RawMessage: "Failed login attempt x5"},
		Classification: models.Classification{ThreatType: models.ThreatBruteForce, Confidence: 1},
		Severity:       0.8,
		Status:         models.AlertNew,
	}
	hub.BroadcastAlert(alert)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var frame struct {
		Type    string       `json:"type"`
		Payload models.Alert `json:"payload"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if frame.Type != "alert" {
		t.Errorf("Expected frame type alert, got %s", frame.Type)
	}
	if frame.Payload.ID != 7 || frame.Payload.Event.DeviceID != "cam01" {
		t.Errorf("Unexpected payload: %+v", frame.Payload)
	}
}

func TestServeAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()

	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r)
		close(served)
	}))
	defer srv.Close()

	// Nothing services registrations anymore; the handler must still
	// return instead of leaking on the register send.
	conn := dialHub(t, srv)

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after hub stop")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("Expected connection closed when hub is stopped")
	}
}

func TestHubStopDisconnectsClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()

	conn := dialHub(t, srv)
	time.Sleep(50 * time.Millisecond)

	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("Expected connection closed after hub stop")
	}
}
