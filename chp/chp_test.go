package chp

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{Sender: "sat1", Time: time.Now().UTC().Truncate(time.Microsecond), State: "RUN", Interval: 1500 * time.Millisecond, Flags: 3}
	frames, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(frames)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Sender != msg.Sender || got.State != msg.State || got.Interval != msg.Interval || got.Flags != msg.Flags {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestSenderBroadcastsToConnectedReceivers(t *testing.T) {
	sender, err := NewSender("127.0.0.1", "producer", 30*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	go sender.Run()
	defer sender.Stop()
	sender.OnStateChange("ORBIT")

	var mu sync.Mutex
	var observed []string
	mgr := NewManager(DefaultLives, nil, nil)
	go mgr.Run()
	defer mgr.Stop()

	addr := "127.0.0.1:" + strconv.Itoa(sender.Port())
	recv, err := Dial(addr, mgr, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	go recv.Run()
	defer recv.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if state, ok := mgr.GetRemoteState("producer"); ok {
			mu.Lock()
			observed = append(observed, state)
			mu.Unlock()
			if state == "ORBIT" {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for heartbeat, observed so far: %v", observed)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatchdogFiresInterruptAfterHeartbeatsStop(t *testing.T) {
	fired := make(chan string, 1)
	mgr := NewManager(2, func(remote, reason string) { fired <- remote }, nil)
	go mgr.Run()
	defer mgr.Stop()

	now := time.Now().UTC()
	mgr.Observe(Message{Sender: "producer", Time: now, State: "RUN", Interval: 20 * time.Millisecond}, now)

	select {
	case remote := <-fired:
		if remote != "producer" {
			t.Fatalf("expected interrupt for producer, got %s", remote)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watchdog interrupt")
	}
}

func TestWatchdogFiresImmediatelyOnErrorState(t *testing.T) {
	fired := make(chan string, 1)
	mgr := NewManager(DefaultLives, func(remote, reason string) { fired <- remote }, nil)
	go mgr.Run()
	defer mgr.Stop()

	now := time.Now().UTC()
	mgr.Observe(Message{Sender: "producer", Time: now, State: "ERROR", Interval: time.Second}, now)

	select {
	case remote := <-fired:
		if remote != "producer" {
			t.Fatalf("expected interrupt for producer, got %s", remote)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watchdog interrupt")
	}
}

func TestWatchdogDoesNotDoubleCountSameIntervalGap(t *testing.T) {
	mgr := NewManager(3, nil, nil)
	now := time.Now().UTC()
	mgr.records["producer"] = &record{interval: 10 * time.Millisecond, lastHeartbeat: now.Add(-50 * time.Millisecond), lives: 3}

	mgr.tick(now)
	mgr.mu.Lock()
	livesAfterFirst := mgr.records["producer"].lives
	mgr.mu.Unlock()

	mgr.tick(now.Add(time.Millisecond))
	mgr.mu.Lock()
	livesAfterSecond := mgr.records["producer"].lives
	mgr.mu.Unlock()

	if livesAfterFirst != 2 {
		t.Fatalf("expected lives decremented once to 2, got %d", livesAfterFirst)
	}
	if livesAfterSecond != 2 {
		t.Fatalf("expected lives unchanged on repeated tick within the same gap, got %d", livesAfterSecond)
	}

	// A tick a full interval after the last check must decrement again: a
	// silent peer keeps losing lives once per interval, not just once ever.
	mgr.tick(now.Add(11 * time.Millisecond))
	mgr.mu.Lock()
	livesAfterThird := mgr.records["producer"].lives
	mgr.mu.Unlock()

	if livesAfterThird != 1 {
		t.Fatalf("expected lives decremented again to 1 after a full interval elapsed, got %d", livesAfterThird)
	}
}
