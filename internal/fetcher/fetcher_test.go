package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCSV(t *testing.T) {
	in := "ID,LONGITUDE,LATITUDE,ALT,JAN\nORO, -117.2 ,34.1,500,10.2\nDAG,-116.9,34.9,600,4.1\n"
	header, rowCh, errCh, err := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "LONGITUDE", "LATITUDE", "ALT", "JAN"}, header)

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	require.Len(t, rows, 2)
	assert.Equal(t, "-117.2", rows[0][1])
}

func TestStreamCSVEmpty(t *testing.T) {
	_, _, _, err := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	require.Error(t, err)
}

func TestStreamCSVCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// More rows than the channel buffers, and no consumer: the sender must
	// eventually block and observe the cancelled context.
	var sb strings.Builder
	sb.WriteString("a,b\n")
	for i := 0; i < 200; i++ {
		sb.WriteString("1,2\n")
	}

	header, _, errCh, err := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})
	require.NoError(t, err, "header is read before the stream starts")
	assert.Equal(t, []string{"a", "b"}, header)
	require.Error(t, <-errCh)
}

func TestHTTPFetcherDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gwr-cli/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{RatePerSec: 100})
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestHTTPFetcherRetriesServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{RatePerSec: 100, MaxRetries: 3})
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, 2, calls)
}

func TestHTTPFetcherNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{RatePerSec: 100})
	_, err := f.Download(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("station data"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "stations.csv")
	f := NewHTTPFetcher(HTTPOptions{RatePerSec: 100})
	n, err := f.DownloadToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("station data")), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "station data", string(data))
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://ftp.example.gov/pub/normals.csv")
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.gov:21", host)
	assert.Equal(t, "/pub/normals.csv", path)

	_, _, err = parseFTPURL("https://example.com/x")
	require.Error(t, err)

	_, _, err = parseFTPURL("ftp://example.com")
	require.Error(t, err)
}

func TestForURL(t *testing.T) {
	_, isFTP := ForURL("ftp://host/file", HTTPOptions{}).(*FTPFetcher)
	assert.True(t, isFTP)
	_, isHTTP := ForURL("https://host/file", HTTPOptions{}).(*HTTPFetcher)
	assert.True(t, isHTTP)
}

func TestExtractZIP(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"nested/dir/counties.shp": "shp bytes",
		"counties.dbf":            "dbf bytes",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, _ = w.Write([]byte(content))
	}
	require.NoError(t, zw.Close())

	zipPath := filepath.Join(dir, "counties.zip")
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))

	extractDir := filepath.Join(dir, "out")
	require.NoError(t, ExtractZIP(zipPath, extractDir))

	// Nested paths are flattened.
	shp, err := FindFileByExt(extractDir, ".shp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(extractDir, "counties.shp"), shp)

	_, err = FindFileByExt(extractDir, ".prj")
	require.Error(t, err)
}
