package media

import (
	"context"
	"io"
)

// Asset is a stored file: its public HTTPS URL and the host's identifier
// used to remove it again.
type Asset struct {
	URL      string
	PublicID string
}

// Uploader stores files on a media host.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (Asset, error)
	Delete(ctx context.Context, publicID string) error
}
