// Package proof asks the deployed service to record a task and returns the
// receipts it issued.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imroc/req/v3"
	"github.com/orchnova/vmsync/internal/httpclient"
)

var ErrIncompleteReceipt = errors.New("proof response missing receipts")

type Task struct {
	Task       string `json:"task"`
	Agent      string `json:"agent"`
	Deployment string `json:"deployment"`
	Timestamp  string `json:"timestamp"`
}

type CloudSQLReceipt struct {
	EventID string `json:"event_id"`
}

type GCSReceipt struct {
	ArtifactPath string `json:"artifact_path"`
}

type Receipts struct {
	CloudSQL *CloudSQLReceipt `json:"cloud_sql"`
	GCS      *GCSReceipt      `json:"gcs"`
}

type Receipt struct {
	Status   string   `json:"status,omitempty"`
	Receipts Receipts `json:"receipts"`
}

// Validate requires both the database event id and the artifact path.
func (r *Receipt) Validate() error {
	var missing []string
	if r.Receipts.CloudSQL == nil || r.Receipts.CloudSQL.EventID == "" {
		missing = append(missing, "cloud_sql.event_id")
	}
	if r.Receipts.GCS == nil || r.Receipts.GCS.ArtifactPath == "" {
		missing = append(missing, "gcs.artifact_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrIncompleteReceipt, missing)
	}
	return nil
}

type Client struct {
	http *req.Client
	url  string
	now  func() time.Time
}

func NewClient(client *req.Client, url string) *Client {
	if client == nil {
		client = httpclient.New(30 * time.Second)
	}
	return &Client{http: client, url: url, now: time.Now}
}

// NewTask stamps a task with the current UTC time.
func (c *Client) NewTask(task, agent, deployment string) Task {
	return Task{
		Task:       task,
		Agent:      agent,
		Deployment: deployment,
		Timestamp:  c.now().UTC().Format(time.RFC3339),
	}
}

func (c *Client) Request(ctx context.Context, task Task) (*Receipt, error) {
	var receipt Receipt
	// each POST records an event server-side; a retry could record it twice
	resp, err := c.http.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetBody(&task).
		SetSuccessResult(&receipt).
		Post(c.url)
	if err := httpclient.CheckResponse(resp, err, "proof request"); err != nil {
		return nil, err
	}
	if err := receipt.Validate(); err != nil {
		return nil, err
	}
	slog.Info("proof", "task", task.Task, "event", receipt.Receipts.CloudSQL.EventID, "artifact", receipt.Receipts.GCS.ArtifactPath)
	return &receipt, nil
}
