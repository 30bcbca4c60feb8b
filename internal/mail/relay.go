package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iamrehman16/DataTricks-Team-Server/pkg/httpclient"
)

// RelaySender posts messages as JSON to an HTTP mail relay. Transient
// failures are retried by the client and repeated failures open the
// breaker.
type RelaySender struct {
	url    string
	client *httpclient.CircuitBreakerClient
}

// NewRelaySender creates a relay sender for url.
func NewRelaySender(url string, cfg httpclient.Config, logger *slog.Logger) *RelaySender {
	return &RelaySender{
		url: url,
		client: httpclient.NewCircuitBreakerClient(
			httpclient.New(cfg),
			httpclient.DefaultCircuitBreakerConfig("mail-relay"),
			logger,
		),
	}
}

func (s *RelaySender) Name() string { return "http" }

func (s *RelaySender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	resp, err := s.client.Post(ctx, s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post to mail relay: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return httpclient.ParseResponseError(resp, "mail relay")
	}
	_ = resp.Body.Close()
	return nil
}
