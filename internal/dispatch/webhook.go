package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-sharing/internal/models"
)

// WebhookNotifier posts alerts as JSON to a push provider endpoint.
type WebhookNotifier struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewWebhookNotifier(endpoint, token string) *WebhookNotifier {
	return &WebhookNotifier{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, a models.Alert) error {
	b, err := json.Marshal(map[string]any{"receiver_id": a.ReceiverID, "alert": a})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
