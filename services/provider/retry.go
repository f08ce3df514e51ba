package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"geekcatalog/models"
)

// RetryOptions configures Retrying.
type RetryOptions struct {
	Attempts uint
	Delay    time.Duration
	// Rotator is consulted once per call on ErrCredentialExpired. When nil the
	// wrapped client is used if it implements Rotator.
	Rotator Rotator
}

// Retrying wraps a Client with a fixed-delay retry on transient failures and
// a single credential rotation on ErrCredentialExpired.
type Retrying struct {
	next     Client
	rotator  Rotator
	attempts uint
	delay    time.Duration
	log      *slog.Logger
}

var _ Client = (*Retrying)(nil)

func NewRetrying(next Client, opts RetryOptions) *Retrying {
	if opts.Attempts == 0 {
		opts.Attempts = 2
	}
	rotator := opts.Rotator
	if rotator == nil {
		rotator, _ = next.(Rotator)
	}
	return &Retrying{
		next:     next,
		rotator:  rotator,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		log:      slog.Default().With("component", "provider.retry", "provider", string(next.Type())),
	}
}

// Unwrap returns the wrapped client.
func (r *Retrying) Unwrap() Client { return r.next }

func call[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	provider := string(r.next.Type())

	v, err := retry.DoWithData(
		func() (T, error) {
			requests.WithLabelValues(provider, op).Inc()
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			retries.WithLabelValues(provider, op).Inc()
			r.log.Debug("retrying provider call", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrCredentialExpired) || r.rotator == nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	r.log.Info("credential expired, rotating", "op", op)
	rotations.WithLabelValues(provider).Inc()
	if rerr := r.rotator.Rotate(ctx); rerr != nil {
		return zero, fmt.Errorf("%s: rotate credential: %w", op, errors.Join(err, rerr))
	}
	requests.WithLabelValues(provider, op).Inc()
	v, err = fn(ctx)
	if err != nil {
		return zero, fmt.Errorf("%s after rotation: %w", op, err)
	}
	return v, nil
}

func (r *Retrying) Type() models.ProviderType { return r.next.Type() }

func (r *Retrying) OpenTitleStream(ctx context.Context) (io.ReadCloser, error) {
	return call(ctx, r, "open_title_stream", r.next.OpenTitleStream)
}

// CurrentExport is empty when the wrapped client has no named exports.
func (r *Retrying) CurrentExport() string {
	if eo, ok := r.next.(ExportOpener); ok {
		return eo.CurrentExport()
	}
	return ""
}

// OpenExport falls back to the current title stream when name is empty or
// the wrapped client has no named exports.
func (r *Retrying) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	eo, ok := r.next.(ExportOpener)
	if !ok || name == "" {
		return r.OpenTitleStream(ctx)
	}
	return call(ctx, r, "open_export", func(ctx context.Context) (io.ReadCloser, error) {
		return eo.OpenExport(ctx, name)
	})
}

func (r *Retrying) Classify(ctx context.Context, nativeID string) ([]string, error) {
	return call(ctx, r, "classify", func(ctx context.Context) ([]string, error) {
		return r.next.Classify(ctx, nativeID)
	})
}

func (r *Retrying) FetchDetails(ctx context.Context, nativeID string) (*models.TitleDetails, error) {
	return call(ctx, r, "fetch_details", func(ctx context.Context) (*models.TitleDetails, error) {
		return r.next.FetchDetails(ctx, nativeID)
	})
}

func (r *Retrying) FetchArtwork(ctx context.Context, nativeID string) (models.Artwork, error) {
	return call(ctx, r, "fetch_artwork", func(ctx context.Context) (models.Artwork, error) {
		return r.next.FetchArtwork(ctx, nativeID)
	})
}

func (r *Retrying) FetchAlternativeTitles(ctx context.Context, nativeID string) ([]string, error) {
	return call(ctx, r, "fetch_alternative_titles", func(ctx context.Context) ([]string, error) {
		return r.next.FetchAlternativeTitles(ctx, nativeID)
	})
}

func (r *Retrying) Search(ctx context.Context, query string) ([]models.TitleDetails, error) {
	return call(ctx, r, "search", func(ctx context.Context) ([]models.TitleDetails, error) {
		return r.next.Search(ctx, query)
	})
}
