package httpemu

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/lime-node/internal/lime"
	"github.com/nugget/lime-node/internal/storage"
)

func testListener(t *testing.T, requestTimeout time.Duration) (*Listener, *httptest.Server) {
	t.Helper()
	node := lime.Node{Identity: lime.Identity{Name: "node", Domain: "example.com"}, Instance: "primary"}
	l := NewListener(node, storage.NewMemoryStore(), storage.NewMemoryStore(), Options{
		RequestTimeout: requestTimeout,
		DefaultDomain:  "example.com",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(l.server.Handler)
	t.Cleanup(srv.Close)
	return l, srv
}

func basicAuthRequest(t *testing.T, method, url, name, password string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.SetBasicAuth(name, password)
	return req
}

func TestHandleCommand_Ping(t *testing.T) {
	_, srv := testListener(t, 2*time.Second)

	req := basicAuthRequest(t, http.MethodGet, srv.URL+"/commands/ping/", "alice", "secret", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var cmd lime.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Status != lime.CommandStatusSuccess {
		t.Errorf("status = %q, want success", cmd.Status)
	}
}

func TestHandleCommand_UnknownResourceFails(t *testing.T) {
	_, srv := testListener(t, 2*time.Second)

	req := basicAuthRequest(t, http.MethodGet, srv.URL+"/commands/unknown/", "alice", "secret", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var cmd lime.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Status != lime.CommandStatusFailure {
		t.Errorf("status = %q, want failure", cmd.Status)
	}
}

func TestHandlePostMessage_FireAndForgetIsStoredForRecipient(t *testing.T) {
	_, srv := testListener(t, 2*time.Second)

	payload, _ := json.Marshal(map[string]any{
		"to":      "bob@example.com/phone",
		"type":    "text/plain",
		"content": "hi bob",
	})
	req := basicAuthRequest(t, http.MethodPost, srv.URL+"/messages/", "alice", "secret", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	getReq := basicAuthRequest(t, http.MethodGet, srv.URL+"/messages/", "bob@example.com", "hunter2", nil)
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer getResp.Body.Close()

	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", getResp.StatusCode)
	}
	var msg lime.Message
	if err := json.NewDecoder(getResp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(msg.Content) != `"hi bob"` {
		t.Errorf("content = %s", msg.Content)
	}
}

func TestHandlePostMessage_WithIDAwaitsNotification(t *testing.T) {
	_, srv := testListener(t, 2*time.Second)

	payload, _ := json.Marshal(map[string]any{
		"to":      "bob@example.com/phone",
		"type":    "text/plain",
		"content": "hi bob",
	})
	req := basicAuthRequest(t, http.MethodPost, srv.URL+"/messages/?id=m1", "alice", "secret", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var notif lime.Notification
	if err := json.NewDecoder(resp.Body).Decode(&notif); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if notif.Event != lime.NotificationEventDispatched {
		t.Errorf("event = %q, want dispatched", notif.Event)
	}
	if notif.ID != "m1" {
		t.Errorf("id = %q, want m1", notif.ID)
	}
}

func TestHandleGetMessage_NoMessageReturnsNoContent(t *testing.T) {
	_, srv := testListener(t, 200*time.Millisecond)

	req := basicAuthRequest(t, http.MethodGet, srv.URL+"/messages/", "nobody", "pw", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestAuthenticateRequest_MissingCredentialsReturns401(t *testing.T) {
	_, srv := testListener(t, time.Second)

	resp, err := http.Get(srv.URL + "/messages/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
