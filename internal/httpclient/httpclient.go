// Package httpclient is the req client shared by the deploy health probe and
// the proof client.
package httpclient

import (
	"fmt"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/orchnova/vmsync/internal/version"
)

const HeaderVMSyncVersion = "X-VMSync-Version"

var UserAgent = fmt.Sprintf("vmsync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// New returns a client with vmsync's user agent, goccy/go-json codecs and a
// fixed retry policy.
func New(timeout time.Duration) *req.Client {
	return req.C().
		SetTimeout(timeout).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(1*time.Second).
		SetUserAgent(UserAgent).
		SetCommonHeader(HeaderVMSyncVersion, version.Version).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
}

// CheckResponse folds a transport error or a non-2xx status into one error.
func CheckResponse(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("%s: %w", operation, requestErr)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("%s: unexpected status %d: %s", operation, resp.StatusCode, truncate(resp.String(), 512))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
