package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/txguard-dev/txguard/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

// GatewayClient talks to an HTTP banking gateway:
//
//	GET {url}/accounts/{iban}/transactions?from=YYYY-MM-DD&to=YYYY-MM-DD
//
// Requests carry the bank code in X-Bank-Code and authenticate with HTTP
// basic auth, or with an OAuth2 client-credentials token when the identity
// has a TokenURL.
type GatewayClient struct {
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

type transactionsResponse struct {
	Transactions []RawTransaction `json:"transactions"`
}

// NewGatewayClient creates a GatewayClient. A zero timeout uses 30s.
func NewGatewayClient(timeout time.Duration) (*GatewayClient, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &GatewayClient{
		httpClient: &http.Client{Jar: jar, Timeout: timeout},
		tokens:     make(map[string]oauth2.TokenSource),
	}, nil
}

// FetchTransactions implements Client.
func (c *GatewayClient) FetchTransactions(ctx context.Context, id model.Identity, from, to time.Time) ([]RawTransaction, error) {
	endpoint, err := c.transactionsURL(id, from, to)
	if err != nil {
		return nil, &ProtocolError{Op: "building request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ProtocolError{Op: "building request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Bank-Code", id.BLZ)

	if err := c.authorize(req, id); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProtocolError{Op: "sending request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", id, ErrAuth)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", id, ErrAccountNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProtocolError{
			Op:     "fetching transactions",
			Status: resp.StatusCode,
			Err:    errors.New(strings.TrimSpace(string(body))),
		}
	}

	var payload transactionsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return nil, &ProtocolError{Op: "decoding response", Status: resp.StatusCode, Err: err}
	}
	return payload.Transactions, nil
}

func (c *GatewayClient) transactionsURL(id model.Identity, from, to time.Time) (string, error) {
	base, err := url.Parse(strings.TrimRight(id.URL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("gateway url %q is not absolute", id.URL)
	}
	u := base.JoinPath("accounts", id.IBAN, "transactions")
	q := u.Query()
	q.Set("from", from.Format(model.DateFormat))
	q.Set("to", to.Format(model.DateFormat))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *GatewayClient) authorize(req *http.Request, id model.Identity) error {
	if id.TokenURL == "" {
		req.SetBasicAuth(id.User, id.Password)
		return nil
	}

	tok, err := c.tokenSource(id).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil &&
			(rerr.Response.StatusCode == http.StatusUnauthorized || rerr.Response.StatusCode == http.StatusBadRequest) {
			return fmt.Errorf("%s: token request rejected: %w", id, ErrAuth)
		}
		return &ProtocolError{Op: "fetching token", Err: err}
	}
	tok.SetAuthHeader(req)
	return nil
}

// tokenSource returns a cached, self-refreshing token source per identity.
func (c *GatewayClient) tokenSource(id model.Identity) oauth2.TokenSource {
	key := id.TokenURL + "|" + id.User

	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.tokens[key]; ok {
		return ts
	}
	cfg := &clientcredentials.Config{
		ClientID:     id.User,
		ClientSecret: id.Password,
		TokenURL:     id.TokenURL,
	}
	// Token refreshes outlive any single fetch, so they get their own context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: c.httpClient.Timeout})
	ts := cfg.TokenSource(ctx)
	c.tokens[key] = ts
	return ts
}
