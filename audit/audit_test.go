package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestEventEmission(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	logger.Log(Event{
		Action: ActionLogin,
		Result: ResultSuccess,
		UserID: "user123",
		Email:  "ana@example.com",
	})

	// Close drains the queue before returning.
	_ = logger.Close()

	events := c.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UserID != "user123" {
		t.Errorf("expected user123, got %s", events[0].UserID)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestMultipleHandlers(t *testing.T) {
	var c1, c2 collector
	logger := New(10, WithHandler(c1.handle), WithHandler(c2.handle))

	logger.Log(Event{Action: ActionLogout, Result: ResultSuccess})
	_ = logger.Close()

	if n := len(c1.snapshot()); n != 1 {
		t.Fatalf("handler1: expected 1 event, got %d", n)
	}
	if n := len(c2.snapshot()); n != 1 {
		t.Fatalf("handler2: expected 1 event, got %d", n)
	}
}

func TestEmitUsesContextRequestID(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	ctx := WithRequestID(context.Background(), "req-12345")
	logger.Emit(ctx, Event{Action: ActionSessionRefresh, Result: ResultFailure, Error: "unauthorized"})
	logger.Emit(ctx, Event{Action: ActionSessionRefresh, Result: ResultSuccess, RequestID: "explicit"})
	_ = logger.Close()

	events := c.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].RequestID != "req-12345" {
		t.Errorf("RequestID = %q, want req-12345", events[0].RequestID)
	}
	if events[1].RequestID != "explicit" {
		t.Errorf("RequestID = %q, want explicit", events[1].RequestID)
	}
}

func TestContextStorage(t *testing.T) {
	logger := New(10)
	defer logger.Close()

	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("logger not found in context")
	}
	if FromContext(context.Background()) != nil {
		t.Error("empty context should yield nil logger")
	}
}

func TestEventTimestampPreserved(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.Log(Event{Action: ActionLogin, Result: ResultSuccess, Timestamp: at})
	_ = logger.Close()

	if got := c.snapshot()[0].Timestamp; !got.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", got, at)
	}
}

func TestQueueDrainedOnClose(t *testing.T) {
	var c collector
	logger := New(5, WithHandler(func(e Event) {
		time.Sleep(5 * time.Millisecond)
		c.handle(e)
	}))

	for i := 0; i < 5; i++ {
		logger.Log(Event{Action: ActionLogin, Result: ResultSuccess})
	}
	_ = logger.Close()

	if n := len(c.snapshot()); n != 5 {
		t.Errorf("expected 5 events processed, got %d", n)
	}
}

func TestCloseTwiceAndLogAfterClose(t *testing.T) {
	logger := New(1)
	_ = logger.Close()
	_ = logger.Close()

	// must not block or panic
	logger.Log(Event{Action: ActionLogin, Result: ResultSuccess})
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	logger.Log(Event{Action: ActionLogin})
	logger.Emit(context.Background(), Event{Action: ActionLogin})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(10, WithWriterHandler(&buf))

	logger.Log(Event{Action: ActionFederatedLogin, Result: ResultFailure, Provider: "google", Error: "BackendAuthFailed"})
	_ = logger.Close()

	line := strings.TrimSpace(buf.String())
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if got.Provider != "google" || got.Error != "BackendAuthFailed" {
		t.Errorf("decoded event = %+v", got)
	}
}
