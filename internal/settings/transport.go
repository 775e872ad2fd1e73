package settings

import (
	"net/http"
	"strconv"
	"time"
)

// DefaultMaxAge is the freshness forced onto every successful settings response.
const DefaultMaxAge = 300 * time.Second

const healthCheckPath = "/settings/healthcheck"

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// maxAgeTransport overrides whatever caching headers the settings service
// sends so every successful lookup is cacheable for maxAge.
type maxAgeTransport struct {
	next   http.RoundTripper
	maxAge time.Duration
}

func (t *maxAgeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if isSuccess(resp.StatusCode) {
		resp.Header.Del("Expires")
		resp.Header.Del("Pragma")
		resp.Header.Set("Cache-Control", "max-age="+strconv.Itoa(int(t.maxAge/time.Second)))
	}
	return resp, nil
}
