package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"verdictbot/internal/compose"
	"verdictbot/internal/transport"
)

var errTransport = &transport.DeliveryError{Cause: transport.CauseTransport, Err: errors.New("boom")}

func TestDrainDeliversQueuedNoticeOnLinkUp(t *testing.T) {
	t.Parallel()
	link := newFakeLink()
	link.initialized = true
	rig := newTestRig(t, link)

	res := rig.svc.Dispatch(context.Background(), "u2", compose.DecisionApproved, "Great application")
	if res.Delivered {
		t.Fatal("expected queued acknowledgment while not ready")
	}
	if got := rig.svc.Status().QueueLength; got != 1 {
		t.Fatalf("QueueLength = %d, want 1", got)
	}

	rig.linkUp()
	rig.waitEvent(t, EventSent)
	if got := rig.svc.Status().QueueLength; got != 0 {
		t.Fatalf("QueueLength = %d after drain, want 0", got)
	}
	if n := link.attemptCount("u2"); n != 1 {
		t.Fatalf("send attempts = %d, want 1", n)
	}
}

func TestDrainPreservesFIFOOrder(t *testing.T) {
	t.Parallel()
	link := newFakeLink()
	link.initialized = true
	rig := newTestRig(t, link)

	ids := []string{"u1", "u2", "u3"}
	for _, id := range ids {
		rig.svc.Dispatch(context.Background(), id, compose.DecisionApproved, "")
	}

	rig.linkUp()
	for range ids {
		rig.waitEvent(t, EventSent)
	}

	got := link.sentOrder()
	for i, id := range ids {
		if got[i] != id {
			t.Fatalf("delivery order = %v, want %v", got, ids)
		}
	}
}

func TestRetryCeilingAndBackoffSchedule(t *testing.T) {
	t.Parallel()
	link := newFakeLink()
	link.initialized = true
	link.sendHook = func(string, int) error { return errTransport }
	rig := newTestRig(t, link)

	rig.svc.Dispatch(context.Background(), "u3", compose.DecisionDenied, "")
	rig.linkUp()

	ev := rig.waitEvent(t, EventAbandoned)
	if ev.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4 (1 initial + 3 retries)", ev.Attempts)
	}
	if n := link.attemptCount("u3"); n != 4 {
		t.Fatalf("send attempts = %d, want exactly 4", n)
	}
	if got := rig.svc.Status().QueueLength; got != 0 {
		t.Fatalf("QueueLength = %d after abandonment, want 0", got)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}
	got := rig.recordedDelays()
	if len(got) != len(want) {
		t.Fatalf("scheduled delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRetrySucceedsOnFourthAttempt(t *testing.T) {
	t.Parallel()
	link := newFakeLink()
	link.initialized = true
	link.sendHook = func(_ string, attempt int) error {
		if attempt <= 3 {
			return errTransport
		}
		return nil
	}
	rig := newTestRig(t, link)

	rig.svc.Dispatch(context.Background(), "u3", compose.DecisionApproved, "persistence pays")
	rig.linkUp()

	ev := rig.waitEvent(t, EventSent)
	if ev.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4 (retryCount 3 at success)", ev.Attempts)
	}
	if got := rig.svc.Status().QueueLength; got != 0 {
		t.Fatalf("QueueLength = %d, want 0", got)
	}

	// Total scheduled backoff before the successful attempt.
	var total time.Duration
	for _, d := range rig.recordedDelays() {
		total += d
	}
	if total < 30*time.Second {
		t.Fatalf("total scheduled delay = %v, want >= 30s", total)
	}
}

func TestFailedHeadKeepsPriorityOverNewerItems(t *testing.T) {
	t.Parallel()
	link := newFakeLink()
	link.initialized = true
	link.sendHook = func(recipient string, attempt int) error {
		if recipient == "flaky" && attempt == 1 {
			return errTransport
		}
		return nil
	}
	rig := newTestRig(t, link)

	rig.svc.Dispatch(context.Background(), "flaky", compose.DecisionApproved, "")
	rig.svc.Dispatch(context.Background(), "steady", compose.DecisionApproved, "")

	rig.linkUp()
	rig.waitEvent(t, EventFailed)
	rig.waitEvent(t, EventSent)
	rig.waitEvent(t, EventSent)

	got := link.sentOrder()
	if len(got) != 2 || got[0] != "flaky" || got[1] != "steady" {
		t.Fatalf("delivery order = %v, want [flaky steady]", got)
	}
}

func TestDrainStopsWhenLinkDrops(t *testing.T) {
	t.Parallel()
	link := newFakeLink()
	link.initialized = true
	rig := newTestRig(t, link)

	rig.svc.Dispatch(context.Background(), "u9", compose.DecisionApproved, "")
	// Drain signal without readiness must leave the queue untouched.
	rig.svc.signalDrain()
	time.Sleep(50 * time.Millisecond)

	if got := rig.svc.Status().QueueLength; got != 1 {
		t.Fatalf("QueueLength = %d, want 1: drain must be gated on readiness", got)
	}
	if n := link.attemptCount("u9"); n != 0 {
		t.Fatalf("send attempts = %d, want 0", n)
	}
}
