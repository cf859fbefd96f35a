package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/sfeed/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
	copyBufSize    = 32 * 1024
)

// ProgressFunc receives the number of bytes just received and the expected
// total (-1 if unknown).
type ProgressFunc func(n int64, total int64)

// Client performs GET requests for release metadata and assets.
type Client struct {
	http      *http.Client
	userAgent string
	auth      func(url string) string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying http.Client (useful for testing).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithAuth sets a function returning a bearer token for a URL ("" for none).
func WithAuth(fn func(url string) string) ClientOption {
	return func(cl *Client) {
		cl.auth = fn
	}
}

// NewClient returns a Client. Metadata requests time out after 30s; downloads
// are bounded by their context only.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:      &http.Client{},
		userAgent: UserAgent("dev"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserAgent returns the default User-Agent for a build version.
func UserAgent(version string) string {
	return fmt.Sprintf("sfeed/%s", version)
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.Wrap(model.ErrParse, "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.auth != nil {
		if tok := c.auth(url); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	// #nosec G107 -- url comes from release metadata or configuration
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, model.Wrap(model.ErrCancelled, "fetch "+url, err)
		}
		return nil, model.Wrap(model.ErrNetwork, "fetch "+url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, model.Errorf(model.ErrNetwork, "fetch "+url, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return model.Wrap(model.ErrParse, "decode "+url, err)
	}
	return nil
}

// GetBytes fetches url and returns the body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.Wrap(model.ErrNetwork, "read "+url, err)
	}
	return data, nil
}

// Download streams url into w, calling progress after every chunk. Cancelling
// ctx aborts the transfer.
func (c *Client) Download(ctx context.Context, url string, w io.Writer, progress ProgressFunc) (int64, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	buf := make([]byte, copyBufSize)
	var written int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, model.Wrap(model.ErrFilesystem, "write "+url, werr)
			}
			written += int64(n)
			if progress != nil {
				progress(int64(n), total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, model.Wrap(model.ErrCancelled, "download "+url, ctx.Err())
			}
			return written, model.Wrap(model.ErrNetwork, "download "+url, rerr)
		}
	}
	if total >= 0 && written != total {
		return written, model.Errorf(model.ErrNetwork, "download "+url, "short body: got %d of %d bytes", written, total)
	}
	return written, nil
}
