package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/threadline/pkg/request"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:49152"
	DefaultAskPath = "/ask"

	maxErrorBodyExcerpt = 512
)

// Transport opens the answer stream for a query.
type Transport interface {
	Ask(ctx context.Context, payload *request.Payload) (io.ReadCloser, error)
}

// TransportError is returned when the request could not be sent or the
// server refused it.
type TransportError struct {
	URL        string
	StatusCode int
	// Body is the start of the response body for refused requests.
	Body string
	Err  error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("ask request to %s failed with status %d", e.URL, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("ask request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client posts queries to the ask endpoint of the server.
type Client struct {
	httpClient *http.Client
	BaseURL    string
	AskPath    string
	UserAgent  string
	Policy     EndpointPolicy
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.BaseURL = baseURL
	}
}

func WithAskPath(askPath string) ClientOption {
	return func(c *Client) {
		c.AskPath = askPath
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.UserAgent = userAgent
	}
}

// WithTimeout bounds the whole exchange, including reading the stream.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithEndpointPolicy(policy EndpointPolicy) ClientOption {
	return func(c *Client) {
		c.Policy = policy
	}
}

func NewClient(options ...ClientOption) *Client {
	ret := &Client{
		httpClient: &http.Client{},
		BaseURL:    DefaultBaseURL,
		AskPath:    DefaultAskPath,
		Policy:     DefaultEndpointPolicy,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (c *Client) URL() string {
	path := c.AskPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(c.BaseURL, "/") + path
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
}

// Ask sends the payload and returns the response body. The caller reads the
// stream and must close it.
func (c *Client) Ask(ctx context.Context, payload *request.Payload) (io.ReadCloser, error) {
	url := c.URL()
	if err := ValidateEndpoint(url, c.Policy); err != nil {
		return nil, &TransportError{URL: url, Err: errors.Wrap(err, "invalid ask endpoint")}
	}
	if payload == nil {
		return nil, errors.New("payload is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	c.setHeaders(req)

	log.Debug().Str("url", url).Object("payload", payload).Msg("sending ask request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyExcerpt))
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
			Err:        errors.Errorf("unexpected status %s", resp.Status),
		}
	}

	return resp.Body, nil
}

var _ Transport = (*Client)(nil)
