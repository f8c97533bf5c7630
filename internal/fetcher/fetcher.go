// Package fetcher downloads dataset and boundary files over HTTP and FTP and
// parses the tabular formats they arrive in (CSV, XLSX, ZIP archives).
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Fetcher downloads remote files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// ForURL returns an HTTP or FTP fetcher depending on the URL scheme.
func ForURL(url string, opts HTTPOptions) Fetcher {
	if strings.HasPrefix(url, "ftp://") {
		return NewFTPFetcher(FTPOptions{Timeout: opts.Timeout})
	}
	return NewHTTPFetcher(opts)
}
