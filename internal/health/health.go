package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPollInterval is the pause between readiness probes.
const DefaultPollInterval = 500 * time.Millisecond

// Prober checks whether a notebook server answers and asks it to shut down.
type Prober interface {
	// Reachable reports whether url answers with a success or redirect status.
	Reachable(ctx context.Context, url string) bool

	// Shutdown calls the server's shutdown endpoint at origin.
	Shutdown(ctx context.Context, origin, token string) error
}

// HTTPClient is a Prober over HTTP.
type HTTPClient struct {
	Client *http.Client

	// RequestTimeout bounds each individual request.
	RequestTimeout time.Duration
}

var _ Prober = (*HTTPClient)(nil)

// NewHTTPClient returns a prober that does not follow redirects, so a
// redirect to a login page still counts as reachable.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		RequestTimeout: 5 * time.Second,
	}
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RequestTimeout)
		defer func() {
			if cancel != nil {
				cancel()
			}
		}()
	}
	resp, err := c.Client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	// Drain before the deferred cancel closes the connection.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}

func (c *HTTPClient) Reachable(ctx context.Context, target string) bool {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func (c *HTTPClient) Shutdown(ctx context.Context, origin, token string) error {
	endpoint := origin + "/api/shutdown?_xsrf=" + url.QueryEscape(token)
	req, err := http.NewRequest(http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+token)

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server failed to shut down: response code %d", resp.StatusCode)
	}
	return nil
}

// IsConnectionRefused reports whether err means nothing listens on the port.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || isPlatformRefused(err)
}

// WaitUntilUp polls url every interval until it is reachable or ctx ends.
// It only returns an error once ctx is done, and that error is ctx.Err().
func WaitUntilUp(ctx context.Context, p Prober, target string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		// Reserve does not look at the deadline, so the last probe before
		// ctx ends still runs.
		if d := limiter.Reserve().Delay(); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Reachable(ctx, target) {
			return nil
		}
	}
}
