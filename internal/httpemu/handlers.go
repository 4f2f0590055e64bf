package httpemu

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/lime-node/internal/channel"
	"github.com/nugget/lime-node/internal/lime"
	"github.com/nugget/lime-node/internal/storage"
)

const longPollInterval = 200 * time.Millisecond

// handleGetMessage long-polls message storage for the authenticated
// identity, returning 204 if nothing arrives before the request times out.
func (l *Listener) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	env, found, err := longPollDequeue(ctx, l.messages, creds.identity)
	if err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	l.writeJSON(w, http.StatusOK, env)
}

// handlePostMessage sends a message through the caller's own channel. With
// an id query parameter it registers the id for correlation and waits for
// the resulting notification; without one it returns 202 immediately.
func (l *Listener) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	var body struct {
		To      lime.Node       `json:"to"`
		Type    string          `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		l.writeError(w, http.StatusBadRequest, err)
		return
	}

	msg := &lime.Message{
		Envelope: lime.Envelope{From: lime.Node{Identity: creds.identity, Instance: "http"}, To: body.To},
		Type:     body.Type,
		Content:  body.Content,
	}

	sc, err := l.getOrCreateChannel(ctx, creds)
	if err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		if err := sc.SendMessage(ctx, msg); err != nil {
			l.writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	msg.ID = id

	resultCh, ok := l.correlator.register(id)
	if !ok {
		l.writeError(w, http.StatusConflict, errCorrelationIDInUse)
		return
	}

	if err := sc.SendMessage(ctx, msg); err != nil {
		l.correlator.abandon(id)
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}

	l.awaitCorrelated(w, ctx, sc, id, resultCh)
}

// handlePostNotification injects a notification as if it arrived from the
// caller's own channel, e.g. a client reporting an event about a message it
// previously received.
func (l *Listener) handlePostNotification(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	var body struct {
		To     lime.Node             `json:"to"`
		Event  lime.NotificationEvent `json:"event"`
		Reason *lime.Reason           `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		l.writeError(w, http.StatusBadRequest, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		l.writeError(w, http.StatusBadRequest, errMissingID)
		return
	}

	notif := &lime.Notification{
		Envelope: lime.Envelope{ID: id, From: lime.Node{Identity: creds.identity, Instance: "http"}, To: body.To},
		Event:    body.Event,
		Reason:   body.Reason,
	}

	sc, err := l.getOrCreateChannel(ctx, creds)
	if err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := sc.SendNotification(ctx, notif); err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetNotification long-polls notification storage for the
// authenticated identity.
func (l *Listener) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	env, found, err := longPollDequeue(ctx, l.notifications, creds.identity)
	if err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	l.writeJSON(w, http.StatusOK, env)
}

// handleListStoredMessages lists (without consuming) every message stored
// for the authenticated identity.
func (l *Listener) handleListStoredMessages(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	ids, err := l.messages.GetIDs(ctx, creds.identity)
	if err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}

	envelopes := make([]lime.AnyEnvelope, 0, len(ids))
	for _, id := range ids {
		env, err := l.messages.Get(ctx, creds.identity, id)
		if err != nil {
			l.writeError(w, http.StatusInternalServerError, err)
			return
		}
		envelopes = append(envelopes, env)
	}
	l.writeJSON(w, http.StatusOK, envelopes)
}

// handleDeleteStoredMessage removes a single stored message by id.
func (l *Listener) handleDeleteStoredMessage(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	id := r.PathValue("id")
	deleted, err := l.messages.Delete(ctx, creds.identity, id)
	if err != nil {
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCommand answers GET/POST/DELETE /commands/{resource}/ by sending a
// get/set/delete command through the caller's own channel and waiting,
// synchronously, for the correlated response.
func (l *Listener) handleCommand(w http.ResponseWriter, r *http.Request) {
	creds, ok := l.authenticateRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := l.requestContext(r)
	defer cancel()

	var method lime.CommandMethod
	switch r.Method {
	case http.MethodGet:
		method = lime.CommandMethodGet
	case http.MethodPost:
		method = lime.CommandMethodSet
	case http.MethodDelete:
		method = lime.CommandMethodDelete
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resource := strings.Trim(r.PathValue("resource"), "/")
	cmd := &lime.Command{
		Envelope: lime.Envelope{ID: uuid.NewString(), From: lime.Node{Identity: creds.identity, Instance: "http"}, To: l.node},
		Method:   method,
		URI:      "/" + resource,
	}

	if r.Method == http.MethodPost && r.ContentLength != 0 {
		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			l.writeError(w, http.StatusBadRequest, err)
			return
		}
		cmd.Resource = raw
		cmd.Type = strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0])
	}

	resultCh, ok := l.correlator.register(cmd.ID)
	if !ok {
		l.writeError(w, http.StatusConflict, errCorrelationIDInUse)
		return
	}

	sc, err := l.getOrCreateChannel(ctx, creds)
	if err != nil {
		l.correlator.abandon(cmd.ID)
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := l.getOrCreateEntry(creds).transport.deliverFromClient(ctx, cmd); err != nil {
		l.correlator.abandon(cmd.ID)
		l.writeError(w, http.StatusInternalServerError, err)
		return
	}

	l.awaitCorrelated(w, ctx, sc, cmd.ID, resultCh)
}

// awaitCorrelated blocks for a pending correlation result. On a context
// deadline it abandons the registration, closes the server-side channel
// (invalidating the cached transport, per spec.md §4.5), and returns 408.
func (l *Listener) awaitCorrelated(w http.ResponseWriter, ctx context.Context, sc *channel.ServerChannel, id string, resultCh <-chan pendingResult) {
	select {
	case <-ctx.Done():
		l.correlator.abandon(id)
		_ = sc.Close()
		w.WriteHeader(http.StatusRequestTimeout)
	case result := <-resultCh:
		l.writeJSON(w, result.statusCode, result.body)
	}
}

func longPollDequeue(ctx context.Context, store storage.EnvelopeStorage, identity lime.Identity) (lime.AnyEnvelope, bool, error) {
	ticker := time.NewTicker(longPollInterval)
	defer ticker.Stop()

	for {
		ids, err := store.GetIDs(ctx, identity)
		if err != nil {
			return nil, false, err
		}
		if len(ids) > 0 {
			env, err := store.Get(ctx, identity, ids[0])
			if err != nil {
				return nil, false, err
			}
			if _, err := store.Delete(ctx, identity, ids[0]); err != nil {
				return nil, false, err
			}
			return env, true, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-ticker.C:
		}
	}
}
