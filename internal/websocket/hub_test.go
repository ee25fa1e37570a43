package websocket

import (
	"strings"
	"testing"
	"time"

	"afml/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // empty origin allowed
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	origins := []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	}
	for _, origin := range origins {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

// newRegisteredClient регистрирует клиента с буферизованным каналом
// без реального WebSocket соединения
func newRegisteredClient(t *testing.T, hub *Hub, buffer int) *Client {
	t.Helper()
	client := &Client{
		hub:  hub,
		send: make(chan []byte, buffer),
	}
	hub.register <- client

	// Дожидаемся регистрации
	deadline := time.After(time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client not registered")
		case <-time.After(time.Millisecond):
		}
	}
	return client
}

func TestHub_BroadcastStep(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := newRegisteredClient(t, hub, 8)

	hub.BroadcastStep(&models.StepRecord{
		Step:      7,
		Status:    models.StepStatusOK,
		Operation: models.OpOpenLong,
		Equity:    10100,
	})

	select {
	case msg := <-client.send:
		s := string(msg)
		if !strings.Contains(s, `"type":"stepUpdate"`) {
			t.Errorf("message type missing: %s", s)
		}
		if !strings.Contains(s, `"operation":"open_long"`) {
			t.Errorf("operation missing: %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestHub_BroadcastEmergency(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := newRegisteredClient(t, hub, 8)

	hub.BroadcastEmergency("Max drawdown: 18.00%", &models.EmergencyOutcome{
		PositionsClosed: 2,
		FinalEquity:     8200,
	})

	select {
	case msg := <-client.send:
		s := string(msg)
		if !strings.Contains(s, `"type":"emergency"`) {
			t.Errorf("message type missing: %s", s)
		}
		if !strings.Contains(s, "Max drawdown: 18.00%") {
			t.Errorf("reason missing: %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

// TestHub_SlowClientRemoved: переполненный буфер клиента ведет к его
// удалению, не к блокировке рассылки
func TestHub_SlowClientRemoved(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	newRegisteredClient(t, hub, 1)

	// Второе сообщение переполняет буфер
	for i := 0; i < 3; i++ {
		hub.BroadcastSessionState(models.SessionTrading, "")
	}

	deadline := time.After(time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("slow client not removed, clients = %d", hub.ClientCount())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newRegisteredClient(t, hub, 8)
	hub.Stop()

	select {
	case _, ok := <-client.send:
		if ok {
			return // буферизованное сообщение, канал закроется следом
		}
	case <-time.After(time.Second):
		t.Fatal("client channel not closed on Stop")
	}
}
