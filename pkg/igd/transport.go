package igd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Transport abstracts the HTTP operations the client performs against a
// gateway: fetching a device description and posting a SOAP action. The
// discovery and negotiation logic never talks to the network directly, so a
// test (or an alternative HTTP stack) can substitute its own implementation.
type Transport interface {
	// Fetch retrieves the document at url.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// PostSOAP posts a SOAP request body to url with the given SOAPAction
	// header value and returns the raw response body. Gateways report SOAP
	// faults with a 500 status, so the body is returned for error statuses
	// too; only transport-level failures produce an error.
	PostSOAP(ctx context.Context, url, action, body string) ([]byte, error)
}

// HTTPTransport is the default Transport, backed by a *http.Client.
type HTTPTransport struct {
	// Client to issue requests with. http.DefaultClient when nil.
	Client *http.Client
}

var defaultTransport Transport = &HTTPTransport{}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransport) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("making http call: %w", err)
	}
	defer resp.Body.Close()

	if 400 <= resp.StatusCode {
		return nil, fmt.Errorf("got error status code: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}

func (t *HTTPTransport) PostSOAP(ctx context.Context, url, action, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	addSOAPRequestHeaders(req.Header, action)

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("making http call: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return respBody, nil
}

func addSOAPRequestHeaders(h http.Header, action string) {
	h.Set("Content-Type", `text/xml; charset="utf-8"`)
	h["SOAPAction"] = []string{action}
	h.Set("Connection", "close")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
}
