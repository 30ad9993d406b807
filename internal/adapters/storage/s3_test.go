package storage_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammerola/stockledger/internal/adapters/storage"
	"github.com/ammerola/stockledger/test/helpers"
)

// fakeS3 answers just enough of the S3 API for bucket checks and deletes
type fakeS3 struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func TestS3Storage_CustomEndpoint(t *testing.T) {
	fake := &fakeS3{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	ctx := context.Background()
	store, err := storage.NewS3Storage(ctx, &storage.S3Config{
		Region:          "eu-west-1",
		Bucket:          "ledger",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        server.URL,
		UsePathStyle:    true,
	}, helpers.TestLogger())
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "imports/lots.xlsx"))
	assert.Equal(t, []string{
		"HEAD /ledger",
		"DELETE /ledger/imports/lots.xlsx",
	}, fake.seen())

	url, err := store.GetPresignedURL(ctx, "exports/demands.xlsx", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, server.URL+"/ledger/exports/demands.xlsx?"), url)
	assert.Contains(t, url, "X-Amz-Expires=900")
}
