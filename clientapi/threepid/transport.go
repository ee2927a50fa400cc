package threepid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RemoteError is returned by a Transport when the remote server responded
// with a non-2xx status. Contents holds the raw response body, which may or
// may not be a structured Matrix error.
type RemoteError struct {
	Code     int
	Contents []byte
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("identity server returned HTTP %d: %s", e.Code, string(e.Contents))
}

// Transport issues plain HTTPS requests to identity servers. Retry and TLS
// policy live here, not in the protocol client.
type Transport interface {
	GetJSON(ctx context.Context, rawurl string, query url.Values) ([]byte, error)
	PostJSON(ctx context.Context, rawurl string, body interface{}, headers map[string]string) ([]byte, error)
}

const defaultTimeout = time.Second * 30

type httpTransport struct {
	client *http.Client
}

// NewTransport returns a Transport backed by a plain net/http client with a
// request timeout. Identity servers are dialled like a browser would, with no
// federation-style server discovery.
func NewTransport() Transport {
	return &httpTransport{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (t *httpTransport) GetJSON(ctx context.Context, rawurl string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return t.do(req)
}

func (t *httpTransport) PostJSON(ctx context.Context, rawurl string, body interface{}, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawurl, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.do(req)
}

func (t *httpTransport) do(req *http.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint: errcheck
	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, RemoteError{Code: resp.StatusCode, Contents: contents}
	}
	return contents, nil
}
