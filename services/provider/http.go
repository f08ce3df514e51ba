package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const defaultTimeout = 15 * time.Second

func newHTTPClient(httpc *http.Client) *http.Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	return httpc
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// statusError maps an HTTP failure onto the provider error kinds.
func statusError(vendor, target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	detail := strings.TrimSpace(string(body))
	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = ErrCredentialExpired
	case resp.StatusCode == http.StatusNotFound:
		kind = ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		kind = ErrTransient
	default:
		return fmt.Errorf("%s %s failed: %s: %s", vendor, target, resp.Status, detail)
	}
	return fmt.Errorf("%s %s failed: %s: %s: %w", vendor, target, resp.Status, detail, kind)
}

// doJSON executes req through the limiter and decodes a JSON body into v.
func doJSON(ctx context.Context, httpc *http.Client, limiter *rate.Limiter, vendor string, req *http.Request, v any) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := httpc.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %v: %w", vendor, req.URL.Path, err, ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(vendor, req.URL.Path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s %s: decode: %w", vendor, req.URL.Path, err)
	}
	return nil
}
