package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/auth"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

const userAgent = "cybersponse-lookup/1.0"

// Request describes one API call. Body, when set, is sent as JSON.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Body   interface{}
}

// Client issues authenticated requests against the CyberSponse API.
// Tokens live in the shared TokenCache keyed by credential pair.
type Client struct {
	httpClient *http.Client
	tokens     *auth.TokenCache
	logger     logging.Logger
}

// New builds a Client with the host supplied transport options.
func New(opts Options, tokens *auth.TokenCache, logger logging.Logger) (*Client, error) {
	hc, err := newHTTPClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	return NewWithHTTPClient(hc, tokens, logger), nil
}

// NewWithHTTPClient wraps an existing http.Client.
func NewWithHTTPClient(hc *http.Client, tokens *auth.TokenCache, logger logging.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if tokens == nil {
		tokens = auth.NewTokenCache()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{httpClient: hc, tokens: tokens, logger: logger}
}

type rawResponse struct {
	statusCode int
	body       []byte
}

// Do executes req with the cached bearer token for creds and decodes a 200
// response into out (out may be nil). A 401 triggers exactly one
// re-authentication and replay; whatever the replay returns is final.
func (c *Client) Do(ctx context.Context, creds auth.Credentials, req Request, out interface{}) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	token, ok := c.tokens.Get(creds.Key())
	state := stateUnauthenticated
	if ok {
		state = stateAuthenticated
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, req, payload, token)
		if err != nil {
			return err
		}

		switch retryPolicy(resp.statusCode, attempt) {
		case decisionReauthenticate:
			c.logger.Trace("token rejected, re-authenticating", "url", req.URL, "state", state)
			state = stateRetryPending
			token, err = c.Authenticate(ctx, creds)
			if err != nil {
				return err
			}
			state = stateAuthenticated
			continue

		case decisionFail:
			state = stateFailed
			c.logger.Debug("request still unauthorized after re-authentication", "url", req.URL, "state", state)
			return &APIError{Method: req.Method, URL: req.URL, StatusCode: resp.statusCode, Body: string(resp.body)}
		}

		if resp.statusCode != http.StatusOK {
			return &APIError{Method: req.Method, URL: req.URL, StatusCode: resp.statusCode, Body: string(resp.body)}
		}

		if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", req.URL, err)
		}
		return nil
	}
}

type authenticateRequest struct {
	Credentials struct {
		LoginID  string `json:"loginid"`
		Password string `json:"password"`
	} `json:"credentials"`
}

type authenticateResponse struct {
	Token string `json:"token"`
}

// Authenticate obtains a fresh token for creds and stores it in the cache.
func (c *Client) Authenticate(ctx context.Context, creds auth.Credentials) (string, error) {
	var body authenticateRequest
	body.Credentials.LoginID = creds.Username
	body.Credentials.Password = creds.Password

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	endpoint := strings.TrimRight(creds.Host, "/") + "/auth/authenticate"
	resp, err := c.send(ctx, Request{Method: http.MethodPost, URL: endpoint}, payload, "")
	if err != nil {
		c.logger.Error("error getting token", "host", creds.Host, "error", err)
		return "", &AuthError{Err: err}
	}
	if resp.statusCode != http.StatusOK {
		c.logger.Error("error getting token", "host", creds.Host, "status", resp.statusCode, "body", string(resp.body))
		return "", &AuthError{StatusCode: resp.statusCode, Body: string(resp.body)}
	}

	var parsed authenticateResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return "", &AuthError{StatusCode: resp.statusCode, Body: string(resp.body), Err: fmt.Errorf("failed to decode token: %w", err)}
	}

	c.tokens.Set(creds.Key(), parsed.Token)
	return parsed.Token, nil
}

func (c *Client) send(ctx context.Context, req Request, payload []byte, token string) (*rawResponse, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	return &rawResponse{statusCode: resp.StatusCode, body: data}, nil
}
