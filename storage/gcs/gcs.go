// Package gcs implements storage.BlobStore on the Cloud Storage JSON API.
//
// The caller supplies an authenticated *http.Client (normally built with
// golang.org/x/oauth2/google); this package only speaks the REST surface
// needed to download and replace a single object.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jmcleod/chatrelay/storage"
)

const (
	defaultBaseURL = "https://storage.googleapis.com"
	// Scope grants object read/write on buckets the account can access.
	Scope = "https://www.googleapis.com/auth/devstorage.read_write"
)

// maxObjectSize bounds downloads; a session snapshot is far smaller.
const maxObjectSize = 64 << 20

// ErrObjectTooLarge is returned by Get for objects over the download limit.
var ErrObjectTooLarge = errors.New("gcs: object exceeds download limit")

// Options configures a Store.
type Options struct {
	Bucket     string
	BaseURL    string
	HTTPClient *http.Client
}

// Store implements storage.BlobStore for one bucket.
type Store struct {
	bucket     string
	baseURL    string
	httpClient *http.Client
	maxSize    int64
}

var _ storage.BlobStore = (*Store)(nil)

// NewStore returns a Store for opts.Bucket.
func NewStore(opts Options) (*Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Store{bucket: bucket, baseURL: baseURL, httpClient: httpClient, maxSize: maxObjectSize}, nil
}

// NewStoreWithCredentials builds an oauth2 client from service-account JSON.
// Empty credentialsJSON falls back to Application Default Credentials.
func NewStoreWithCredentials(ctx context.Context, bucket string, credentialsJSON []byte) (*Store, error) {
	var (
		creds *google.Credentials
		err   error
	)
	if len(credentialsJSON) > 0 {
		creds, err = google.CredentialsFromJSON(ctx, credentialsJSON, Scope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, Scope)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs: loading credentials: %w", err)
	}
	return NewStore(Options{Bucket: bucket, HTTPClient: oauth2.NewClient(ctx, creds.TokenSource)})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
		s.baseURL, url.PathEscape(s.bucket), url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcs: downloading %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("downloading", key, resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("gcs: reading %s: %w", key, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrObjectTooLarge, key, s.maxSize)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		s.baseURL, url.PathEscape(s.bucket), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gcs: uploading %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("uploading", key, resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(op, key string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("gcs: %s %s: status %d: %s", op, key, resp.StatusCode, strings.TrimSpace(string(body)))
}
