package proof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/orchnova/vmsync/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(t *testing.T, body string, got *Task) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(url string) *Client {
	c := NewClient(httpclient.New(5*time.Second), url)
	c.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600)) }
	return c
}

func TestRequest_ParsesReceipts(t *testing.T) {
	var got Task
	srv := server(t, `{"status":"ok","receipts":{"cloud_sql":{"event_id":"evt-42"},"gcs":{"artifact_path":"gs://b/proof.json"}}}`, &got)
	c := newClient(srv.URL)

	receipt, err := c.Request(context.Background(), c.NewTask("prove", "orchestrator", "https://svc"))
	require.NoError(t, err)
	assert.Equal(t, "evt-42", receipt.Receipts.CloudSQL.EventID)
	assert.Equal(t, "gs://b/proof.json", receipt.Receipts.GCS.ArtifactPath)

	assert.Equal(t, Task{
		Task:       "prove",
		Agent:      "orchestrator",
		Deployment: "https://svc",
		Timestamp:  "2026-05-06T06:08:09Z",
	}, got)
}

func TestRequest_IncompleteReceipt(t *testing.T) {
	cases := map[string]string{
		"no receipts":   `{"status":"ok"}`,
		"no gcs":        `{"receipts":{"cloud_sql":{"event_id":"e"}}}`,
		"empty eventid": `{"receipts":{"cloud_sql":{"event_id":""},"gcs":{"artifact_path":"p"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := server(t, body, nil)
			c := newClient(srv.URL)
			_, err := c.Request(context.Background(), c.NewTask("t", "a", "d"))
			assert.ErrorIs(t, err, ErrIncompleteReceipt)
		})
	}
}

func TestRequest_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.Request(context.Background(), c.NewTask("t", "a", "d"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncompleteReceipt)
}

func TestRequest_NotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(httpclient.New(50*time.Millisecond), srv.URL)
	_, err := c.Request(context.Background(), c.NewTask("prove", "orchestrator", ""))
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}
