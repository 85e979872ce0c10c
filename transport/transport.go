// Package transport is the thin HTTP layer under the exporters: a POST
// helper with fixed timeouts that reports a structured result and never
// propagates an error to the caller's path.
package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/code19m/errx"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 10 * time.Second

	contentTypeJSON = "application/json"
)

// Result is the outcome of one POST. Status 0 means the request never got
// a response (network, DNS or encoding failure); Err carries the cause.
type Result struct {
	Status  int
	Body    string
	Success bool
	Err     error
}

// Client posts JSON payloads. The zero value is not usable; construct with
// New. Client is safe for concurrent use by multiple senders.
type Client struct {
	http      *http.Client
	userAgent string
}

// New creates a Client with a 5 s connect timeout and a 10 s overall
// request timeout. userAgent identifies the library on every request.
func New(userAgent string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: dialTimeout,
				}).DialContext,
				TLSHandshakeTimeout: dialTimeout,
			},
		},
		userAgent: userAgent,
	}
}

// Post sends payload to url as JSON. A string or []byte payload is sent
// as-is; anything else is marshaled first. A nil payload sends an empty
// body. Extra headers are applied after the defaults, so callers can
// override Content-Type if they must.
func (c *Client) Post(url string, payload any, headers map[string]string) Result {
	body, err := encodeBody(payload)
	if err != nil {
		return Result{Err: errx.Wrap(err)}
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: errx.Wrap(err)}
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: errx.Wrap(err)}
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do with it

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: resp.StatusCode, Err: errx.Wrap(err)}
	}

	return Result{
		Status:  resp.StatusCode,
		Body:    string(respBody),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
}

func encodeBody(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		data, err := json.Marshal(p)
		return data, errx.Wrap(err)
	}
}
