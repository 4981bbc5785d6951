package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/plyfetch/plyfetch/internal/api"
	"github.com/plyfetch/plyfetch/internal/cache"
	"github.com/plyfetch/plyfetch/internal/transfer"
	"github.com/plyfetch/plyfetch/pkg/chunked"
)

const testChunkSize = 4096

// artifactServer serves manifest and chunk endpoints for one job and counts
// requests.
func artifactServer(t *testing.T, jobID string, data []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64
	numChunks := chunked.CountChunks(int64(len(data)), testChunkSize)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case r.URL.Path == "/api/download_info/"+jobID:
			json.NewEncoder(w).Encode(map[string]any{
				"file_size":  len(data),
				"chunk_size": testChunkSize,
				"num_chunks": numChunks,
				"filename":   "generated.ply",
			})
		case strings.HasPrefix(r.URL.Path, "/api/download_chunk/"+jobID+"/"):
			idx, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/download_chunk/"+jobID+"/"))
			if err != nil || idx < 0 || idx >= numChunks {
				http.NotFound(w, r)
				return
			}
			start := idx * testChunkSize
			end := start + testChunkSize
			if end > len(data) {
				end = len(data)
			}
			w.Write(data[start:end])
		default:
			http.NotFound(w, r)
		}
	}))
	return server, &requests
}

func newService(t *testing.T, baseURL string) *Service {
	t.Helper()

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bucket.Close() })

	return &Service{
		API:   api.NewClient(api.Options{BaseURL: baseURL}),
		Cache: cache.New(bucket, cache.Options{TTL: time.Hour}),
		Transfer: transfer.Options{
			Concurrency:     4,
			MaxRetries:      3,
			RetryBackoff:    time.Millisecond,
			RetryMaxBackoff: 5 * time.Millisecond,
		},
	}
}

func testArtifact(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i%251) + 1
	}
	return data
}

func TestGetFetchesAndCaches(t *testing.T) {
	data := testArtifact(20000)
	server, requests := artifactServer(t, "job-1", data)
	defer server.Close()

	svc := newService(t, server.URL)
	ctx := context.Background()

	res, err := svc.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.FromCache {
		t.Error("first Get reported a cache hit")
	}
	if !bytes.Equal(res.Data, data) {
		t.Error("fetched artifact differs from source")
	}
	if res.Filename != "generated.ply" {
		t.Errorf("filename %q", res.Filename)
	}
	if res.Stats == nil {
		t.Fatal("stats missing on network fetch")
	}

	firstCount := requests.Load()
	if firstCount == 0 {
		t.Fatal("no requests hit the server")
	}

	// Second request must be served without network access.
	res, err = svc.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !res.FromCache {
		t.Error("second Get missed the cache")
	}
	if !bytes.Equal(res.Data, data) {
		t.Error("cached artifact differs from source")
	}
	if requests.Load() != firstCount {
		t.Errorf("cache hit made %d extra requests", requests.Load()-firstCount)
	}
}

func TestGetUnknownJob(t *testing.T) {
	server, _ := artifactServer(t, "job-1", testArtifact(100))
	defer server.Close()

	svc := newService(t, server.URL)
	_, err := svc.Get(context.Background(), "unknown")
	if err == nil {
		t.Fatal("expected error")
	}

	var me *api.ManifestError
	if !errors.As(err, &me) {
		t.Fatalf("error %T is not *ManifestError", err)
	}
}

func TestFailedTransferStoresNothing(t *testing.T) {
	data := testArtifact(20000)
	numChunks := chunked.CountChunks(int64(len(data)), testChunkSize)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/download_info/"):
			json.NewEncoder(w).Encode(map[string]any{
				"file_size":  len(data),
				"chunk_size": testChunkSize,
				"num_chunks": numChunks,
			})
		case strings.HasSuffix(r.URL.Path, "/2"):
			// Chunk 2 always comes back truncated: a permanent failure.
			w.Write([]byte("nope"))
		default:
			idx, _ := strconv.Atoi(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
			start := idx * testChunkSize
			end := start + testChunkSize
			if end > len(data) {
				end = len(data)
			}
			w.Write(data[start:end])
		}
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	ctx := context.Background()

	_, err := svc.Get(ctx, "job-1")
	if err == nil {
		t.Fatal("expected terminal error")
	}
	var te *transfer.TransferError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *TransferError", err)
	}

	if svc.Cache.IsFresh(ctx, "job-1") {
		t.Error("failed transfer left a cache entry")
	}
}

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/predict" {
			w.Write([]byte(`{"job_id":"job-99"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	svc := newService(t, server.URL)

	img := filepath.Join(t.TempDir(), "in.jpg")
	if err := os.WriteFile(img, []byte("jpeg-ish"), 0644); err != nil {
		t.Fatal(err)
	}

	jobID, err := svc.Submit(context.Background(), img)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-99" {
		t.Errorf("job id %q, want job-99", jobID)
	}
}
