package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// SourceKind selects the loading strategy for a document.
type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindFS   SourceKind = "fs"
	SourceKindURL  SourceKind = "url"
)

// Source names a document to load: a kind plus the location that kind knows
// how to interpret (a file path, an fs.FS entry name, or a URL). The zero
// value is rejected by Load; use the constructors.
type Source struct {
	Kind     SourceKind
	Location string
}

// SourceFromFile names an on-disk document.
func SourceFromFile(path string) Source {
	return Source{Kind: SourceKindFile, Location: filepath.Clean(path)}
}

// SourceFromFS names an entry inside the loader's configured fs.FS.
func SourceFromFS(name string) Source {
	return Source{Kind: SourceKindFS, Location: name}
}

// SourceFromURL names an HTTP or HTTPS endpoint. The URL is not validated
// here; a malformed one fails at Load time.
func SourceFromURL(raw string) Source {
	return Source{Kind: SourceKindURL, Location: raw}
}

// Document is the raw bytes of a fetched definition plus the location they
// were read from. Location appears in parse errors only.
type Document struct {
	Raw      []byte
	Location string
}

// LoaderOptions configures how a Loader resolves sources. Loading stays
// offline-first: HTTP sources are rejected unless a client is supplied or the
// fallback is explicitly enabled.
type LoaderOptions struct {
	// FileSystem enables loading from an abstract filesystem. Nil means fs.FS
	// sources are rejected; file paths always go through the OS.
	FileSystem fs.FS

	// HTTPClient allows callers to inject custom HTTP behaviour (timeouts,
	// proxies). Nil means HTTP sources are disabled unless AllowHTTPFallback
	// is true.
	HTTPClient *http.Client

	// AllowHTTPFallback enables a default HTTP client when none is supplied.
	AllowHTTPFallback bool

	// RequestTimeout caps remote fetch durations.
	RequestTimeout time.Duration
}

// LoaderOption mutates LoaderOptions prior to construction.
type LoaderOption func(*LoaderOptions)

// WithFileSystem injects an fs.FS implementation for fs sources.
func WithFileSystem(files fs.FS) LoaderOption {
	return func(opts *LoaderOptions) {
		opts.FileSystem = files
	}
}

// WithHTTPClient injects a custom HTTP client for remote documents.
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(opts *LoaderOptions) {
		opts.HTTPClient = client
	}
}

// WithHTTPFallback enables HTTP loading using a default client and assigns an
// optional timeout.
func WithHTTPFallback(timeout time.Duration) LoaderOption {
	return func(opts *LoaderOptions) {
		opts.AllowHTTPFallback = true
		opts.RequestTimeout = timeout
	}
}

// Loader fetches definition documents from files, fs.FS entries, or HTTP.
type Loader struct {
	fs        fs.FS
	http      *http.Client
	allowHTTP bool
	timeout   time.Duration
}

// NewLoader constructs a Loader from the supplied options.
func NewLoader(options ...LoaderOption) *Loader {
	var opts LoaderOptions
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}

	timeout := opts.RequestTimeout
	var httpClient *http.Client
	switch {
	case opts.HTTPClient != nil:
		clone := *opts.HTTPClient
		if timeout > 0 && clone.Timeout == 0 {
			clone.Timeout = timeout
		}
		httpClient = &clone
	case opts.AllowHTTPFallback:
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Loader{
		fs:        opts.FileSystem,
		http:      httpClient,
		allowHTTP: httpClient != nil,
		timeout:   timeout,
	}
}

// Load fetches the named document.
func (l *Loader) Load(ctx context.Context, src Source) (Document, error) {
	if src.Location == "" {
		return Document{}, errors.New("schema: source location is required")
	}

	var (
		data []byte
		err  error
	)

	switch src.Kind {
	case SourceKindFile:
		data, err = loadFile(ctx, src.Location)
	case SourceKindFS:
		data, err = loadFromFS(ctx, l.fs, src.Location)
	case SourceKindURL:
		if !l.allowHTTP {
			return Document{}, errors.New("schema: http support disabled")
		}
		data, err = loadHTTP(ctx, l.http, src.Location, l.timeout)
	default:
		err = fmt.Errorf("schema: unsupported source kind %q", src.Kind)
	}
	if err != nil {
		return Document{}, err
	}
	if len(data) == 0 {
		return Document{}, fmt.Errorf("schema: document %s is empty", src.Location)
	}

	return Document{Raw: data, Location: src.Location}, nil
}

func loadFile(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func loadFromFS(ctx context.Context, filesystem fs.FS, name string) ([]byte, error) {
	if filesystem == nil {
		return nil, errors.New("schema: filesystem is not configured")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return fs.ReadFile(filesystem, name)
}

func loadHTTP(ctx context.Context, client *http.Client, url string, timeout time.Duration) ([]byte, error) {
	if client == nil {
		return nil, errors.New("schema: http client is not configured")
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("schema: unexpected status " + resp.Status)
	}

	return io.ReadAll(resp.Body)
}
