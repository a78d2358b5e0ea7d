package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	providerHeaderTimeout = 20 * time.Second
	providerDialTimeout   = 10 * time.Second
	maxErrorSnippet       = 256
)

// newStreamingHTTPClient bounds connection setup and the wait for response
// headers but not the body, which stays open for the length of a reply.
func newStreamingHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: providerDialTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = providerHeaderTimeout
	return &http.Client{Transport: transport}
}

// describeProviderError normalises provider failures into one message shape
// while keeping the original error reachable through errors.Is/As.
func describeProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := snippet(apiErr.Message)
		code := ""
		if apiErr.Code != nil {
			code = strings.TrimSpace(fmt.Sprint(apiErr.Code))
		}
		switch {
		case code != "" && message != "":
			return fmt.Errorf("gateway: %s api error (%d, %s): %s: %w", provider, apiErr.HTTPStatusCode, code, message, err)
		case message != "":
			return fmt.Errorf("gateway: %s api error (%d): %s: %w", provider, apiErr.HTTPStatusCode, message, err)
		default:
			return fmt.Errorf("gateway: %s api error (%d): %w", provider, apiErr.HTTPStatusCode, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status := http.StatusText(reqErr.HTTPStatusCode)
		if status == "" {
			status = "request failed"
		}
		return fmt.Errorf("gateway: %s api error (%d): %s: %w", provider, reqErr.HTTPStatusCode, status, err)
	}

	return fmt.Errorf("gateway: %s: %w", provider, err)
}

func snippet(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxErrorSnippet {
		value = value[:maxErrorSnippet]
	}
	return value
}
