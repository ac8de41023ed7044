package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Event is the payload POSTed to configured endpoints when a job reaches a
// terminal state
type Event struct {
	Event     string             `json:"event"`
	Timestamp time.Time          `json:"timestamp"`
	Job       models.DownloadJob `json:"job"`
}

// Notifier delivers terminal-state notifications to the configured
// endpoints. Endpoints are fire-and-forget; a failed delivery is logged and
// never affects the job.
type Notifier struct {
	client    *http.Client
	endpoints []string
	secret    string
	logger    *logging.Logger
}

// NewNotifier creates a notifier from configuration
func NewNotifier(cfg config.WebhookConfig, logger *logging.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		client:    &http.Client{Timeout: timeout},
		endpoints: cfg.Endpoints,
		secret:    cfg.Secret,
		logger:    logger,
	}
}

// NotifyTerminal sends the job's terminal event to every endpoint
func (n *Notifier) NotifyTerminal(ctx context.Context, job models.DownloadJob) {
	if len(n.endpoints) == 0 {
		return
	}

	event := "job.completed"
	if job.Status == models.JobStatusFailed {
		event = "job.failed"
	}

	payload, err := json.Marshal(Event{Event: event, Timestamp: time.Now().UTC(), Job: job})
	if err != nil {
		n.logger.WithJobID(job.ID).Warnf("Failed to marshal webhook payload: %v", err)
		return
	}

	for _, endpoint := range n.endpoints {
		n.deliver(ctx, endpoint, event, job.ID, payload)
	}
}

// deliver posts one event to one endpoint
func (n *Notifier) deliver(ctx context.Context, endpoint, event, jobID string, payload []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		n.logger.WithJobID(jobID).Warnf("Failed to build webhook request: %v", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MediaGrab-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", uuid.New().String())
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Signature(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.WithJobID(jobID).Warnf("Webhook delivery to %s failed: %v", endpoint, err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.WithJobID(jobID).Warnf("Webhook endpoint %s returned %d", endpoint, resp.StatusCode)
		return
	}
	n.logger.WithJobID(jobID).Debugf("Webhook %s delivered to %s", event, endpoint)
}

// Signature computes the hex-encoded HMAC-SHA256 of the payload, prefixed
// the way receivers expect it
func Signature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
