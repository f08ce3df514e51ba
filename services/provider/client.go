// Package provider talks to the external catalog vendors. Every vendor is
// exposed through Client so the ingestion and refresh pipelines stay
// category-agnostic.
package provider

import (
	"context"
	"errors"
	"io"

	"geekcatalog/models"
)

// Error kinds. Anything not wrapping ErrTransient or ErrCredentialExpired is
// permanent and must not be retried.
var (
	ErrTransient         = errors.New("transient provider failure")
	ErrCredentialExpired = errors.New("provider credential expired")
	ErrNotFound          = errors.New("provider resource not found")
	ErrUnsupported       = errors.New("operation not supported by provider")
)

// Client is the per-vendor surface consumed by the pipelines.
type Client interface {
	// Type is the provider type stamped on references created from this client.
	Type() models.ProviderType
	// OpenTitleStream returns the vendor's full title export as JSON lines.
	OpenTitleStream(ctx context.Context) (io.ReadCloser, error)
	// Classify returns the lower-cased tags attached to a title.
	Classify(ctx context.Context, nativeID string) ([]string, error)
	FetchDetails(ctx context.Context, nativeID string) (*models.TitleDetails, error)
	FetchArtwork(ctx context.Context, nativeID string) (models.Artwork, error)
	FetchAlternativeTitles(ctx context.Context, nativeID string) ([]string, error)
	Search(ctx context.Context, query string) ([]models.TitleDetails, error)
}

// ExportOpener is implemented by clients whose title stream is a dated
// export file. A checkpointed job pins the file by name so a restart on a
// later day reads the same lines.
type ExportOpener interface {
	// CurrentExport names the export OpenTitleStream would read now, or is
	// empty when the client has no named exports.
	CurrentExport() string
	OpenExport(ctx context.Context, name string) (io.ReadCloser, error)
}

// Rotator refreshes the credential a client authenticates with.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// Secrets is the credential store contract the clients depend on.
type Secrets interface {
	Get(ctx context.Context, keyID string) (string, error)
	Reload(ctx context.Context, keyID string) (string, error)
	Rotate(ctx context.Context, keyID string, fetch func(context.Context) (string, error)) (string, error)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
