package httpemu

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nugget/lime-node/internal/lime"
	"github.com/nugget/lime-node/internal/storage"
)

func testDeliverListener(t *testing.T) *Listener {
	t.Helper()
	node := lime.Node{Identity: lime.Identity{Name: "node", Domain: "example.com"}}
	return NewListener(node, storage.NewMemoryStore(), storage.NewMemoryStore(), Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestDeliver_IntermediateNotificationDoesNotResolvePendingRequest(t *testing.T) {
	l := testDeliverListener(t)
	ctx := context.Background()

	ch, ok := l.correlator.register("n1")
	if !ok {
		t.Fatal("register should succeed")
	}

	l.deliver(ctx, nil, &lime.Notification{
		Envelope: lime.Envelope{ID: "n1"},
		Event:    lime.NotificationEventAccepted,
	})

	select {
	case result := <-ch:
		t.Fatalf("accepted notification resolved the pending request: %+v", result)
	default:
	}

	l.deliver(ctx, nil, &lime.Notification{
		Envelope: lime.Envelope{ID: "n1"},
		Event:    lime.NotificationEventDispatched,
	})

	select {
	case result := <-ch:
		if result.statusCode != 201 {
			t.Errorf("statusCode = %d, want 201", result.statusCode)
		}
	default:
		t.Fatal("dispatched notification should have resolved the pending request")
	}
}

func TestDeliver_FailedNotificationResolvesWithReasonStatus(t *testing.T) {
	l := testDeliverListener(t)
	ctx := context.Background()

	ch, ok := l.correlator.register("n2")
	if !ok {
		t.Fatal("register should succeed")
	}

	l.deliver(ctx, nil, &lime.Notification{
		Envelope: lime.Envelope{ID: "n2"},
		Event:    lime.NotificationEventFailed,
		Reason:   lime.NewReason(lime.ReasonCodeGeneralError, "nope"),
	})

	select {
	case result := <-ch:
		if result.statusCode == 201 {
			t.Error("failed notification should not resolve with the success status code")
		}
	default:
		t.Fatal("failed notification should have resolved the pending request")
	}
}

func TestDeliver_PendingCommandDoesNotResolvePendingRequest(t *testing.T) {
	l := testDeliverListener(t)
	ctx := context.Background()

	ch, ok := l.correlator.register("c1")
	if !ok {
		t.Fatal("register should succeed")
	}

	l.deliver(ctx, nil, &lime.Command{
		Envelope: lime.Envelope{ID: "c1"},
		Status:   lime.CommandStatusPending,
	})

	select {
	case result := <-ch:
		t.Fatalf("pending command resolved the pending request: %+v", result)
	default:
	}

	l.deliver(ctx, nil, &lime.Command{
		Envelope: lime.Envelope{ID: "c1"},
		Status:   lime.CommandStatusSuccess,
	})

	select {
	case result := <-ch:
		if result.statusCode != 201 {
			t.Errorf("statusCode = %d, want 201", result.statusCode)
		}
	default:
		t.Fatal("success command should have resolved the pending request")
	}
}

func TestCommandStatusCode_SuccessIs201(t *testing.T) {
	if got := commandStatusCode(&lime.Command{Status: lime.CommandStatusSuccess}); got != 201 {
		t.Errorf("commandStatusCode(success) = %d, want 201", got)
	}
}
