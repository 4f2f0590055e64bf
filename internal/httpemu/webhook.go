package httpemu

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nugget/lime-node/internal/httpkit"
	"github.com/nugget/lime-node/internal/lime"
)

// notifyWebhook delivers msg to its recipient's registered webhook, if any.
// This is the emulation layer's answer to a client that never shows up to
// long-poll: rather than leaving the message sitting in storage until
// someone asks, a configured recipient gets pushed a copy as soon as it
// lands. Runs in its own goroutine so a slow or unreachable webhook target
// never stalls the output pump.
func (l *Listener) notifyWebhook(msg *lime.Message) {
	if l.webhookResolver == nil {
		return
	}
	url, ok := l.webhookResolver(msg.To.ToIdentity())
	if !ok || url == "" {
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		l.logger.Error("httpemu: failed to marshal message for webhook", "id", msg.ID, "error", err)
		return
	}

	go l.deliverWebhook(url, msg.ID, body)
}

func (l *Listener) deliverWebhook(url, envelopeID string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), l.webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		l.logger.Error("httpemu: failed to build webhook request", "id", envelopeID, "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/vnd.lime.message+json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := l.webhookClient.Do(req)
	if err != nil {
		l.logger.Warn("httpemu: webhook delivery failed", "id", envelopeID, "url", url, "error", err)
		return
	}

	if resp.StatusCode >= 400 {
		l.logger.Warn("httpemu: webhook target rejected delivery",
			"id", envelopeID, "url", url, "status", resp.StatusCode,
			"body", httpkit.ReadErrorBody(resp.Body, 4096))
		return
	}
	httpkit.DrainAndClose(resp.Body, 4096)
}
