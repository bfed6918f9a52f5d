// Package fetcher downloads the FHRS feed over HTTP and streams its CSV
// records.
package fetcher

import (
	"context"
	"time"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// DownloadToFile fetches the URL and atomically replaces path with the body.
	DownloadToFile(ctx context.Context, url string, path string) (*FileResult, error)
}

// FileResult describes a completed DownloadToFile.
type FileResult struct {
	Path  string
	Bytes int64
	// LastModified is the server's Last-Modified header, nil when absent or
	// unparseable.
	LastModified *time.Time
}
