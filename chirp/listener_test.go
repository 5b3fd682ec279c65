package chirp

import (
	"sync"
	"testing"
	"time"
)

// TestDiscoveryCallbacksPreserveOfferBeforeDepartOrdering proves a slow OFFER
// callback finishes before the same host's later DEPART callback starts,
// which only holds if discovery callbacks are dispatched one at a time on
// the listener's own goroutine rather than as independent per-event
// goroutines.
func TestDiscoveryCallbacksPreserveOfferBeforeDepartOrdering(t *testing.T) {
	mgrSock, listenSock := newPipePair()
	mgr := NewManager(mgrSock, "g1", "sat1", nil)

	var mu sync.Mutex
	var events []string
	done := make(chan struct{}, 1)

	l := NewListener(listenSock, "g1", "", nil)
	l.OnDiscovery(func(kind MessageType, svc ServiceDescriptor) {
		mu.Lock()
		events = append(events, kind.String()+"-start")
		mu.Unlock()

		if kind == MessageOffer {
			time.Sleep(50 * time.Millisecond)
		}

		mu.Lock()
		events = append(events, kind.String()+"-done")
		mu.Unlock()

		if kind == MessageDepart {
			done <- struct{}{}
		}
	})
	go l.Run()
	defer l.Stop()

	if err := mgr.RegisterService(ServiceControl, 5555); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if err := mgr.UnregisterService(ServiceControl, 5555); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DEPART to be observed")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"OFFER-start", "OFFER-done", "DEPART-start", "DEPART-done"}
	if len(events) != len(want) {
		t.Fatalf("unexpected event sequence: %v", events)
	}
	for i, e := range want {
		if events[i] != e {
			t.Fatalf("unexpected event sequence: %v", events)
		}
	}
}
