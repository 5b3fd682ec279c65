package cmdp

import (
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
)

func TestSubscriberReceivesRecordsFromDiscoveredPublisher(t *testing.T) {
	pub, err := NewPublisher("127.0.0.1", nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()
	pub.EnableSending("sat1")

	received := make(chan Message, 1)
	sub := NewSubscriber(func(host string, msg Message) { received <- msg }, nil)
	defer sub.Stop()

	svc := chirp.ServiceDescriptor{GroupName: "g", HostName: "sat1", Service: chirp.ServiceMonitoring, Port: uint16(pub.Port()), IPv4: [4]byte{127, 0, 0, 1}}
	sub.HandleDiscovery(chirp.MessageOffer, svc)
	sub.Subscribe("LOG/INFO")

	deadline := time.Now().Add(2 * time.Second)
	for len(sub.Hosts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if len(sub.Hosts()) == 0 {
		t.Fatal("subscriber never connected to the discovered publisher")
	}
	time.Sleep(100 * time.Millisecond) // let the publisher's subscriptionLoop register the frame

	pub.Publish(NewLogMessage("sat1", INFO, "FSM", "hello", 0, "", 0, ""))

	select {
	case msg := <-received:
		if msg.Topic != "LOG/INFO/FSM" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the record")
	}
}
