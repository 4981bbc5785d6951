package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/plyfetch/plyfetch/pkg/chunked"
)

// Options configures the API client.
type Options struct {
	// BaseURL is the compute server address, e.g. "http://192.168.1.10:8000".
	BaseURL string

	// ManifestTimeout bounds a single manifest resolution request.
	// Default: 10s
	ManifestTimeout time.Duration

	// ChunkTimeout bounds a single chunk fetch, independent of any
	// session-level deadline. Default: 30s
	ChunkTimeout time.Duration

	// SubmitTimeout bounds an image submission, which includes server-side
	// inference. Default: 120s
	SubmitTimeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ManifestTimeout:     10 * time.Second,
		ChunkTimeout:        30 * time.Second,
		SubmitTimeout:       120 * time.Second,
		MaxIdleConnsPerHost: 16,
	}
}

// Client talks to the compute server's artifact endpoints.
// It holds no per-request state; all methods are safe for concurrent use.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a client for the server at opts.BaseURL.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.ManifestTimeout <= 0 {
		opts.ManifestTimeout = def.ManifestTimeout
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = def.ChunkTimeout
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = def.SubmitTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes; compression buys nothing for this payload
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// manifestResponse is the wire format of the download_info endpoint.
type manifestResponse struct {
	FileSize  int64  `json:"file_size"`
	ChunkSize int64  `json:"chunk_size"`
	NumChunks int    `json:"num_chunks"`
	Filename  string `json:"filename"`
}

// ResolveManifest resolves a job identifier to its transfer manifest.
// It performs exactly one request and retains no state, so callers may
// retry it freely. Failures are reported as *ManifestError.
func (c *Client) ResolveManifest(ctx context.Context, jobID string) (chunked.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ManifestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/download_info/%s", c.opts.BaseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return chunked.Manifest{}, &ManifestError{JobID: jobID, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return chunked.Manifest{}, &ManifestError{JobID: jobID, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return chunked.Manifest{}, &ManifestError{JobID: jobID, Err: err}
	}

	var mr manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return chunked.Manifest{}, &ManifestError{JobID: jobID, Err: fmt.Errorf("decode response: %w", err)}
	}

	manifest := chunked.Manifest{
		JobID:      jobID,
		TotalSize:  mr.FileSize,
		ChunkSize:  mr.ChunkSize,
		ChunkCount: mr.NumChunks,
		Filename:   mr.Filename,
	}
	if err := manifest.Validate(); err != nil {
		return chunked.Manifest{}, &ManifestError{JobID: jobID, Err: err}
	}

	return manifest, nil
}

// FetchChunk downloads one chunk and returns exactly chunk.Length bytes.
// A response with the wrong length, a truncated body, or a correctly sized
// but all-zero body yields a permanent *ChunkError; network failures,
// timeouts and 5xx responses yield transient ones.
func (c *Client) FetchChunk(ctx context.Context, jobID string, chunk chunked.Chunk) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ChunkTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/download_chunk/%s/%d", c.opts.BaseURL, jobID, chunk.Index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ChunkError{Index: chunk.Index, Permanent: true, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Includes connection resets and per-chunk timeouts.
		return nil, &ChunkError{Index: chunk.Index, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &ChunkError{Index: chunk.Index,
			Err: fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)}
	}
	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, &ChunkError{Index: chunk.Index, Permanent: true, Err: err}
	}

	// Read one byte past the expected length to catch oversized responses
	// without buffering an arbitrarily large body.
	buf := make([]byte, chunk.Length)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, &ChunkError{Index: chunk.Index, Err: err}
	}
	if int64(n) != chunk.Length {
		return nil, &ChunkError{Index: chunk.Index, Permanent: true,
			Err: fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, n, chunk.Length)}
	}
	if extra, _ := io.CopyN(io.Discard, resp.Body, 1); extra > 0 {
		return nil, &ChunkError{Index: chunk.Index, Permanent: true,
			Err: fmt.Errorf("%w: body longer than %d bytes", ErrLengthMismatch, chunk.Length)}
	}
	if allZeros(buf) {
		return nil, &ChunkError{Index: chunk.Index, Permanent: true, Err: ErrZeroChunk}
	}

	return buf, nil
}

// submitResponse is the wire format of the predict endpoint.
type submitResponse struct {
	JobID string `json:"job_id"`
}

// SubmitImage uploads an image for inference and returns the job identifier
// assigned by the server. The artifact becomes fetchable under that id once
// inference completes.
func (c *Client) SubmitImage(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	defer cancel()

	url := c.opts.BaseURL + "/api/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit image: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return "", fmt.Errorf("submit image: %w", err)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if sr.JobID == "" {
		return "", fmt.Errorf("submit image: empty job id in response")
	}

	return sr.JobID, nil
}

// checkStatus returns an appropriate error for non-success status codes.
func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrJobNotFound
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

func allZeros(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
