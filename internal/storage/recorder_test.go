package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"verdictbot/internal/compose"
	"verdictbot/internal/dispatch"
	"verdictbot/internal/eventbus"
	logx "verdictbot/pkg/logx"
)

func TestRecorderPersistsDeliveryEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "verdictbot")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	at := time.Unix(300, 0).UTC()
	bus.Publish(eventbus.Event{Type: dispatch.EventSent, Data: dispatch.DeliveryEvent{
		RecipientID: "u1", Decision: compose.DecisionApproved, Attempts: 1, Immediate: true, At: at,
	}})
	bus.Publish(eventbus.Event{Type: dispatch.EventQueued, Data: dispatch.DeliveryEvent{
		RecipientID: "u2", Decision: compose.DecisionDenied, At: at,
	}})
	bus.Publish(eventbus.Event{Type: dispatch.EventAbandoned, Data: dispatch.DeliveryEvent{
		RecipientID: "u3", Decision: compose.DecisionDenied, Attempts: 4, Cause: "forbidden", At: at,
	}})

	outPath := filepath.Join(dir, "verdictbot.outcomes.jsonl")
	waitForRows(t, outPath, 2)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}

	rows := readRows(t, outPath)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (queued events are not outcomes)", len(rows))
	}
	if rows[0].Outcome != "sent" || rows[0].RecipientID != "u1" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Outcome != "abandoned" || rows[1].Cause != "forbidden" || rows[1].Attempts != 4 {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}

func waitForRows(t *testing.T, path string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(readRows(t, path)) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outcome rows", n)
}

func readRows(t *testing.T, path string) []OutcomeEntry {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read: %v", err)
	}
	var rows []OutcomeEntry
	for _, line := range splitLines(b) {
		var e OutcomeEntry
		if err := json.Unmarshal(line, &e); err != nil {
			t.Fatalf("bad row: %v", err)
		}
		rows = append(rows, e)
	}
	return rows
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				out = append(out, b[start:i])
			}
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, b[start:])
	}
	return out
}
