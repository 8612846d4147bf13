// Package client is the HTTP transport for the SwissParam web service.
//
// Each method performs exactly one request bounded by its own timeout and
// returns either the response payload, a *NetworkError (connectivity), or a
// *ServerError (the service answered with a rejection). No method retries.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/versioninfo"
)

// Endpoint paths, relative to the base URL.
const (
	PathStart    = "/startparam"
	PathCheck    = "/checksession"
	PathCancel   = "/cancelsession"
	PathRetrieve = "/retrievesession"

	// SessionParam is the query parameter carrying the session id.
	SessionParam = "sessionNumber"
	// MoleculeField is the multipart field carrying the molecule file.
	MoleculeField = "myMol2"
)

// DefaultBaseURL is the public SwissParam service.
const DefaultBaseURL = "http://swissparam.ch:5678"

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultDownloadTimeout = 5 * time.Minute
	maxTextBody            = 1 << 20
)

// Config configures a Client. Zero timeouts fall back to defaults.
type Config struct {
	BaseURL         string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to one SwissParam deployment.
type Client struct {
	base            *url.URL
	http            *http.Client
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	userAgent       string
}

// New validates cfg and returns a ready client.
func New(cfg Config) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	c := &Client{
		base:            base,
		http:            httpClient,
		requestTimeout:  cfg.RequestTimeout,
		downloadTimeout: cfg.DownloadTimeout,
		userAgent:       "swissparam-cli/" + versioninfo.Version,
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = defaultDownloadTimeout
	}
	return c, nil
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Ping checks that the service root answers with a 2xx status.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.getText(ctx, "ping", "/", nil)
	return err
}

// Upload sends the molecule file and parameters to the start endpoint and
// returns the raw response text, which embeds the session id.
func (c *Client) Upload(ctx context.Context, p params.Parameters) (string, error) {
	body, contentType, err := buildUpload(p)
	if err != nil {
		return "", err
	}

	u := c.endpoint(PathStart, p.QueryParams())
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	return c.doText(req, "upload")
}

// Status returns the raw status text for a session.
func (c *Client) Status(ctx context.Context, sessionID string) (string, error) {
	return c.getText(ctx, "status", PathCheck, sessionQuery(sessionID))
}

// Cancel asks the service to stop a session.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	_, err := c.getText(ctx, "cancel", PathCancel, sessionQuery(sessionID))
	return err
}

// Archive is an open result download. Close must be called.
type Archive struct {
	io.ReadCloser
	// ContentLength is the advertised size, or -1 when unknown.
	ContentLength int64
}

// Download opens the result archive of a session. The download timeout
// covers the whole transfer, including reads from the returned body.
func (c *Client) Download(ctx context.Context, sessionID string) (*Archive, error) {
	u := c.endpoint(PathRetrieve, sessionQuery(sessionID))
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		cancel()
		return nil, newNetworkError("download", u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageLen)) //nolint:errcheck // best-effort error detail
		return nil, &ServerError{Op: "download", StatusCode: resp.StatusCode, Message: snippet(msg)}
	}

	return &Archive{
		ReadCloser:    &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *Client) getText(ctx context.Context, op, path string, query url.Values) (string, error) {
	u := c.endpoint(path, query)
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	return c.doText(req, op)
}

func (c *Client) doText(req *http.Request, op string) (string, error) {
	u := req.URL.String()
	resp, err := c.do(req)
	if err != nil {
		return "", newNetworkError(op, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBody))
	if err != nil {
		return "", newNetworkError(op, u, fmt.Errorf("failed to read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServerError{Op: op, StatusCode: resp.StatusCode, Message: snippet(data)}
	}
	return string(data), nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return c.http.Do(req)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func sessionQuery(sessionID string) url.Values {
	return url.Values{SessionParam: {sessionID}}
}

func buildUpload(p params.Parameters) ([]byte, string, error) {
	f, err := os.Open(p.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open molecule file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(MoleculeField, filepath.Base(p.Filename))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read molecule file: %w", err)
	}
	for key, values := range p.FormFields() {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
