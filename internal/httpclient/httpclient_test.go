package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Headers(t *testing.T) {
	var gotUA, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotVersion = r.Header.Get(HeaderVMSyncVersion)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	resp, err := New(5 * time.Second).R().SetSuccessResult(&out).Get(srv.URL)
	require.NoError(t, CheckResponse(resp, err, "probe"))
	assert.True(t, out.OK)
	assert.Equal(t, UserAgent, gotUA)
	assert.NotEmpty(t, gotVersion)
}

func TestCheckResponse_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := New(5 * time.Second).R().Get(srv.URL)
	err = CheckResponse(resp, err, "probe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad input")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
