package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// buildZip returns an in-memory zip with the given file names and contents.
func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// MockGetter serves canned bodies keyed by URL.
type MockGetter struct {
	Bodies  map[string][]byte
	GetFunc func(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
	Calls   []string
}

func (m *MockGetter) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	m.Calls = append(m.Calls, url)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, url, timeout)
	}
	if body, ok := m.Bodies[url]; ok {
		return body, nil
	}
	return nil, &HTTPError{URL: url, StatusCode: 404}
}
