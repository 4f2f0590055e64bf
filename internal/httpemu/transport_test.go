package httpemu

import (
	"context"
	"testing"
	"time"

	"github.com/nugget/lime-node/internal/lime"
)

func TestTransport_SendDeliverRoundTrip(t *testing.T) {
	tr := newTransport("key1", 1, 4)
	ctx := context.Background()

	if err := tr.deliverFromClient(ctx, &lime.Session{State: lime.SessionStateNew}); err != nil {
		t.Fatalf("deliverFromClient: %v", err)
	}
	env, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, ok := env.(*lime.Session); !ok {
		t.Fatalf("type = %T, want *lime.Session", env)
	}

	msg := &lime.Message{Envelope: lime.Envelope{ID: "m1"}}
	if err := tr.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-tr.toClient:
		if got.(*lime.Message).ID != "m1" {
			t.Errorf("id = %q", got.(*lime.Message).ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered envelope")
	}
}

func TestTransport_CloseIsIdempotentAndInvokesOnClose(t *testing.T) {
	tr := newTransport("key1", 1, 1)
	calls := 0
	tr.onClose = func() { calls++ }

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close (again): %v", err)
	}
	if calls != 1 {
		t.Errorf("onClose called %d times, want 1", calls)
	}
	if tr.Connected() {
		t.Error("Connected() should be false after Close")
	}
}

func TestTransport_SendAfterCloseFails(t *testing.T) {
	tr := newTransport("key1", 1, 1)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Send(context.Background(), &lime.Message{}); err != lime.ErrNotConnected {
		t.Errorf("Send after close = %v, want ErrNotConnected", err)
	}
}

func TestTransport_SupportedOptionsAreSingletonNone(t *testing.T) {
	tr := newTransport("key1", 1, 1)
	if comp := tr.SupportedCompression(); len(comp) != 1 || comp[0] != lime.SessionCompressionNone {
		t.Errorf("SupportedCompression = %v", comp)
	}
	if enc := tr.SupportedEncryption(); len(enc) != 1 || enc[0] != lime.SessionEncryptionNone {
		t.Errorf("SupportedEncryption = %v", enc)
	}
}
