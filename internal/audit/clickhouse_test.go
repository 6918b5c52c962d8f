package audit

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWriteNeverBlocksWhenQueueFull(t *testing.T) {
	w := &ClickHouseWriter{
		queue:  make(chan *Event, 2),
		logger: zap.NewNop(),
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Write(&Event{Type: EventInvocation, RequestID: "r"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a full queue")
	}
	if got := w.dropped.Load(); got != 8 {
		t.Errorf("dropped = %d, want 8", got)
	}
	if len(w.queue) != 2 {
		t.Errorf("queued = %d, want 2", len(w.queue))
	}
}

func TestLogWriterWritesEveryField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := NewLogWriter(zap.New(core))
	w.Write(&Event{
		Type:      EventConfirmationResolved,
		RequestID: "req-1",
		Outcome:   "approved",
		Actor:     "ops@example.com",
	})
	w.Close()

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != string(EventConfirmationResolved) {
		t.Errorf("type = %v", fields["type"])
	}
	if fields["actor"] != "ops@example.com" {
		t.Errorf("actor = %v", fields["actor"])
	}
}
