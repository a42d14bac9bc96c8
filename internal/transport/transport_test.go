package transport

import (
	"context"
	"testing"
	"time"
)

func waitForData(t *testing.T, events <-chan Event, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventDataReceived && string(ev.Data) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestUDPTransportReliableRoundTrip(t *testing.T) {
	server := NewUDPTransport(nil)
	if err := server.Bind("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client := NewUDPTransport(nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cid, err := client.Connect(ctx, server.pc.LocalAddr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	result := client.Send(cid, ReliableOrdered, []byte("hello-reliable"))
	waitForData(t, server.Events(), "hello-reliable", 2*time.Second)
	if err := <-result; err != nil {
		t.Fatalf("reliable send failed: %v", err)
	}
}

func TestUDPTransportUnreliableSequencedDropsOlder(t *testing.T) {
	server := NewUDPTransport(nil)
	if err := server.Bind("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client := NewUDPTransport(nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cid, err := client.Connect(ctx, server.pc.LocalAddr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	<-client.Send(cid, UnreliableSequenced, []byte("newer"))
	waitForData(t, server.Events(), "newer", 2*time.Second)
}
