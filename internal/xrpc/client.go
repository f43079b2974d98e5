// Package xrpc implements the remote PDS backend: XRPC calls over
// HTTPS and the subscribeRepos WebSocket firehose.
package xrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/syntax"
)

// Client issues XRPC queries and procedures against one PDS base URL.
// It is safe for concurrent use.
type Client struct {
	base syntax.PDSURL
	http *http.Client
	log  *zap.Logger
}

// NewClient builds a client for the given PDS URL. A nil httpClient
// falls back to http.DefaultClient; a nil logger is replaced by a nop.
func NewClient(base syntax.PDSURL, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: httpClient, log: logger}
}

// Base returns the PDS URL this client targets.
func (c *Client) Base() syntax.PDSURL { return c.base }

// errorEnvelope is the XRPC error body: {"error": "...", "message": "..."}.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Query performs an HTTP GET against an XRPC query method. params may
// be nil. If out is non-nil the response body is decoded into it.
// token, when non-empty, is sent as a bearer Authorization header.
func (c *Client) Query(ctx context.Context, method string, params url.Values, token string, out any) error {
	target := c.base.XRPCURL(method)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return aterr.NewTransport(target, err)
	}
	return c.do(req, token, out)
}

// Procedure performs an HTTP POST against an XRPC procedure method with
// a JSON-encoded body. A nil body sends no payload at all, which is
// what refreshSession expects.
func (c *Client) Procedure(ctx context.Context, method string, body any, token string, out any) error {
	target := c.base.XRPCURL(method)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return aterr.Invalidf("xrpc: encode %s request: %v", method, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
	if err != nil {
		return aterr.NewTransport(target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, token, out)
}

// maxErrBodyLen caps how much of a non-envelope error body lands in the
// error message; the full body stays in the structured Body field.
const maxErrBodyLen = 512

func truncateBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrBodyLen {
		return s[:maxErrBodyLen] + "..."
	}
	return s
}

func (c *Client) do(req *http.Request, token string, out any) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug("xrpc request", zap.String("method", req.Method), zap.String("url", req.URL.Path))

	resp, err := c.http.Do(req)
	if err != nil {
		return aterr.NewTransport(req.URL.String(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return aterr.NewTransport(req.URL.String(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorEnvelope
		_ = json.Unmarshal(raw, &envelope)
		msg := envelope.Message
		if msg == "" {
			// A body that is not the standard envelope still surfaces as
			// a protocol error carrying the raw text.
			msg = truncateBody(raw)
		}
		return aterr.NewProtocol(resp.StatusCode, envelope.Error, msg, string(raw), req.URL.String())
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return aterr.NewProtocol(resp.StatusCode, "InvalidResponse", "response body is not valid JSON", string(raw), req.URL.String())
	}
	return nil
}
