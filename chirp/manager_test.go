package chirp

import (
	"testing"
	"time"
)

func TestRegisterServiceBroadcastsOfferAndRejectsDuplicate(t *testing.T) {
	mgrSock, listenSock := newPipePair()
	mgr := NewManager(mgrSock, "g1", "sat1", nil)

	var got []MessageType
	done := make(chan struct{}, 1)
	l := NewListener(listenSock, "g1", "", nil)
	l.OnDiscovery(func(kind MessageType, svc ServiceDescriptor) {
		got = append(got, kind)
		done <- struct{}{}
	})
	go l.Run()
	defer l.Stop()

	if err := mgr.RegisterService(ServiceControl, 5555); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OFFER to be observed")
	}

	if err := mgr.RegisterService(ServiceControl, 5555); err == nil {
		t.Fatal("expected error re-registering same service/port")
	} else if _, ok := err.(*ServiceAlreadyRegisteredError); !ok {
		t.Fatalf("expected *ServiceAlreadyRegisteredError, got %T", err)
	}
}

func TestRegisterServiceRejectsAny(t *testing.T) {
	sock, _ := newPipePair()
	mgr := NewManager(sock, "g1", "sat1", nil)
	if err := mgr.RegisterService(ServiceAny, 1); err == nil {
		t.Fatal("expected error registering ANY")
	}
}

func TestUnregisterUnknownServiceIsError(t *testing.T) {
	sock, _ := newPipePair()
	mgr := NewManager(sock, "g1", "sat1", nil)
	if err := mgr.UnregisterService(ServiceControl, 1); err == nil {
		t.Fatal("expected error unregistering a service never registered")
	} else if _, ok := err.(*ServiceNotRegisteredError); !ok {
		t.Fatalf("expected *ServiceNotRegisteredError, got %T", err)
	}
}

func TestListenerDropsMessagesFromOtherGroup(t *testing.T) {
	mgrSock, listenSock := newPipePair()
	mgr := NewManager(mgrSock, "other-group", "sat1", nil)

	fired := make(chan struct{}, 1)
	l := NewListener(listenSock, "my-group", "", nil)
	l.OnDiscovery(func(kind MessageType, svc ServiceDescriptor) { fired <- struct{}{} })
	go l.Run()
	defer l.Stop()

	if err := mgr.RegisterService(ServiceControl, 1); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	select {
	case <-fired:
		t.Fatal("expected cross-group OFFER to be dropped, not dispatched")
	case <-time.After(150 * time.Millisecond):
	}
}
