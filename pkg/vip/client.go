// Package vip is a client for the VIP (LUXS Insights) object API.
package vip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"datamakelaar/pkg/config"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTokenTTL = 3600 * time.Second
	tokenMargin     = 30 * time.Second
	maxBackoff      = 30 * time.Second
)

type Client struct {
	baseURL     string
	credentials *clientcredentials.Config
	http        *http.Client
	maxRetries  int
	backoff     time.Duration

	mu     sync.Mutex
	tokens oauth2.TokenSource

	sleepFunc func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetries sets how often a transient failure is retried and the base
// delay of the exponential backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.backoff = backoff
	}
}

func NewClient(env *config.Environment, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(env.APIURL, "/"),
		credentials: &clientcredentials.Config{
			ClientID:     env.ClientID,
			ClientSecret: env.ClientSecret,
			TokenURL:     env.AuthURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		http:       &http.Client{Timeout: 60 * time.Second},
		maxRetries: 5,
		backoff:    time.Second,
		sleepFunc:  sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	log.Debugf("VIP client for %s (client id %s)", c.baseURL, config.MaskSecret(env.ClientID))
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tokenSource returns the cached source, creating it after start-up or a
// rejected token.
func (c *Client) tokenSource() oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		// the token endpoint is called through the client's own http client
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, credentialsSource{ctx: ctx, conf: c.credentials}, tokenMargin)
	}
	return c.tokens
}

// credentialsSource fetches a new token on every call. Tokens without
// expires_in get the default lifetime.
type credentialsSource struct {
	ctx  context.Context
	conf *clientcredentials.Config
}

func (s credentialsSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = time.Now().Add(defaultTokenTTL)
	}
	return tok, nil
}

// Token returns a valid access token. The token is reused until it is
// within tokenMargin of its expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := c.tokenSource().Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", fmt.Errorf("authenticate: %w", &APIError{StatusCode: re.Response.StatusCode, Body: string(re.Body)})
		}
		return "", fmt.Errorf("authenticate: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// GetMetadata fetches the metadata of one object type, or of all object
// types when objectType is empty.
func (c *Client) GetMetadata(ctx context.Context, objectType string) (*Metadata, error) {
	q := url.Values{}
	if objectType != "" {
		q.Set("objectType", objectType)
	}
	var md Metadata
	if err := c.do(ctx, http.MethodGet, "/v1/metadata", q, nil, &md); err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return &md, nil
}

// GetObjects fetches a single page of objects.
func (c *Client) GetObjects(ctx context.Context, query ObjectQuery) (*ObjectPage, error) {
	if query.ObjectType == "" {
		return nil, errors.New("get objects: object type is required")
	}
	q := url.Values{}
	q.Set("objectType", query.ObjectType)
	q.Set("onlyActive", strconv.FormatBool(query.OnlyActive))
	q.Set("page", strconv.Itoa(query.Page))
	if query.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(query.PageSize))
	}
	for _, a := range query.Attributes {
		q.Add("attributes", a)
	}
	if query.Identifier != "" {
		q.Set("identifier", query.Identifier)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/objects/filterByObjectType", q, nil, &raw); err != nil {
		return nil, fmt.Errorf("get objects: %w", err)
	}
	page, err := decodePage(raw)
	if err != nil {
		return nil, fmt.Errorf("get objects: %w", err)
	}
	return page, nil
}

// decodePage accepts either a bare list of objects or a page object. A bare
// list carries no page count, so TotalPages stays zero.
func decodePage(raw json.RawMessage) (*ObjectPage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var objects []Object
		if err := json.Unmarshal(trimmed, &objects); err != nil {
			return nil, err
		}
		return &ObjectPage{Objects: objects, TotalCount: len(objects)}, nil
	}
	var page ObjectPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAllObjects walks the pages until one comes back shorter than the page
// size or the reported page count is reached. A page that starts with the
// same object as the previous one means the server ignored the page
// parameter; it is dropped and the walk stops.
func (c *Client) GetAllObjects(ctx context.Context, query ObjectQuery) ([]Object, error) {
	if query.PageSize <= 0 {
		query.PageSize = 2000
	}
	var all []Object
	var first string
	for page := 0; ; page++ {
		query.Page = page
		resp, err := c.GetObjects(ctx, query)
		if err != nil {
			return nil, err
		}
		if len(resp.Objects) > 0 {
			if page > 0 && resp.Objects[0].Identifier == first {
				log.Warnf("Page %d of %s repeats page %d, stopping", page, query.ObjectType, page-1)
				break
			}
			first = resp.Objects[0].Identifier
		}
		all = append(all, resp.Objects...)
		log.WithFields(log.Fields{
			"objectType": query.ObjectType,
			"page":       page,
			"count":      len(resp.Objects),
			"total":      len(all),
		}).Debug("Fetched objects page")
		if len(resp.Objects) < query.PageSize {
			break
		}
		if resp.TotalPages > 0 && page+1 >= resp.TotalPages {
			break
		}
	}
	log.Infof("Fetched %d %s object(s)", len(all), query.ObjectType)
	return all, nil
}

// UpdateObjects updates existing objects (PUT /v1/objects).
func (c *Client) UpdateObjects(ctx context.Context, objects []Object) ([]ObjectResult, error) {
	var results []ObjectResult
	if err := c.do(ctx, http.MethodPut, "/v1/objects", nil, objects, &results); err != nil {
		return nil, fmt.Errorf("update objects: %w", err)
	}
	return results, nil
}

// UpsertObjects creates or updates objects (POST /v1/objects).
func (c *Client) UpsertObjects(ctx context.Context, objects []Object) ([]ObjectResult, error) {
	var results []ObjectResult
	if err := c.do(ctx, http.MethodPost, "/v1/objects", nil, objects, &results); err != nil {
		return nil, fmt.Errorf("upsert objects: %w", err)
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, u, payload)
		if err != nil {
			return err
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			log.Debug("Got 401, refreshing token")
			c.invalidateToken()
			refreshed = true
			attempt--
			continue
		case isTransient(resp.StatusCode) && attempt < c.maxRetries:
			backoff := c.backoffFor(attempt)
			log.Warnf("VIP API returned %d for %s %s, retrying in %v", resp.StatusCode, method, path, backoff)
			if err := c.sleepFunc(ctx, backoff); err != nil {
				return err
			}
			continue
		default:
			return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
	}
}

func (c *Client) send(ctx context.Context, method, u string, payload []byte) (*http.Response, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	log.Debugf("%s %s", method, u)
	return c.http.Do(req)
}

func (c *Client) backoffFor(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func isTransient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
