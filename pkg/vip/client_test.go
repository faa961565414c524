package vip

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"datamakelaar/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVIP struct {
	tokens    atomic.Int32
	expiresIn int
	handlers  map[string]http.HandlerFunc
}

func newTestClient(t *testing.T, f *fakeVIP) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		n := f.tokens.Add(1)
		expiresIn := f.expiresIn
		if expiresIn == 0 {
			expiresIn = 3600
		}
		body := map[string]interface{}{
			"access_token": "token-" + string(rune('0'+n)),
			"token_type":   "Bearer",
		}
		if expiresIn > 0 {
			body["expires_in"] = expiresIn
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	for path, h := range f.handlers {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(&config.Environment{
		Name:         config.Acceptance,
		APIURL:       srv.URL + "/",
		AuthURL:      srv.URL + "/oauth2/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}, WithRetries(3, time.Millisecond))
	c.sleepFunc = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestTokenIsCachedUntilInvalidated(t *testing.T) {
	f := &fakeVIP{}
	c := newTestClient(t, f)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.EqualValues(t, 1, f.tokens.Load())

	c.invalidateToken()
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestTokenWithinMarginIsRefetched(t *testing.T) {
	// lifetime shorter than tokenMargin, so a cached token is never reused
	f := &fakeVIP{expiresIn: 10}
	c := newTestClient(t, f)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestTokenWithoutExpiryGetsDefaultLifetime(t *testing.T) {
	f := &fakeVIP{expiresIn: -1}
	c := newTestClient(t, f)

	tok, err := c.tokenSource().Token()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(defaultTokenTTL), tok.Expiry, time.Minute)

	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.tokens.Load())
}

func TestTokenEndpointError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_client"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(&config.Environment{APIURL: srv.URL, AuthURL: srv.URL + "/oauth2/token", ClientID: "id", ClientSecret: "wrong"})

	_, err := c.Token(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid_client")
}

func TestGetMetadata(t *testing.T) {
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/metadata": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Building", r.URL.Query().Get("objectType"))
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"objectTypes":[{"name":"Building","attributes":[
				{"name":"Dakpartner","type":"STRING","dateFormat":null,"attributeValueOptions":["A","B"]},
				{"name":"Jaar","type":"DATE","dateFormat":"yyyy","attributeValueOptions":[]}
			],"childObjectTypes":[]}]}`)
		},
	}}
	c := newTestClient(t, f)

	md, err := c.GetMetadata(context.Background(), "Building")
	require.NoError(t, err)
	ot, ok := md.ObjectType("Building")
	require.True(t, ok)
	attr, ok := ot.Attribute("Dakpartner")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, attr.AttributeValueOptions)
	jaar, _ := ot.Attribute("Jaar")
	assert.Equal(t, "yyyy", jaar.DateFormat)

	_, ok = md.ObjectType("Unit")
	assert.False(t, ok)
}

func TestGetObjectsAcceptsListAndPage(t *testing.T) {
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/objects/filterByObjectType": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "true", q.Get("onlyActive"))
			assert.Equal(t, []string{"a", "b"}, q["attributes"])
			if q.Get("objectType") == "Unit" {
				_, _ = io.WriteString(w, `[{"objectType":"Unit","identifier":"OGE-1234","attributes":{"Name":"Test Unit"}}]`)
				return
			}
			_, _ = io.WriteString(w, `{"objects":[{"objectType":"Building","identifier":"B1","attributes":{}}],"totalCount":1,"totalPages":1,"currentPage":0}`)
		},
	}}
	c := newTestClient(t, f)

	page, err := c.GetObjects(context.Background(), ObjectQuery{ObjectType: "Unit", OnlyActive: true, Attributes: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "OGE-1234", page.Objects[0].Identifier)
	assert.Equal(t, 0, page.TotalPages)

	page, err = c.GetObjects(context.Background(), ObjectQuery{ObjectType: "Building", OnlyActive: true, Attributes: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "B1", page.Objects[0].Identifier)

	_, err = c.GetObjects(context.Background(), ObjectQuery{})
	assert.Error(t, err)
}

func TestGetAllObjectsPages(t *testing.T) {
	var pages []string
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/objects/filterByObjectType": func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			pages = append(pages, page)
			assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
			switch page {
			case "0":
				_, _ = io.WriteString(w, `[{"identifier":"1"},{"identifier":"2"}]`)
			case "1":
				_, _ = io.WriteString(w, `[{"identifier":"3"},{"identifier":"4"}]`)
			default:
				_, _ = io.WriteString(w, `[{"identifier":"5"}]`)
			}
		},
	}}
	c := newTestClient(t, f)

	objects, err := c.GetAllObjects(context.Background(), ObjectQuery{ObjectType: "Building", PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, objects, 5)
	assert.Equal(t, []string{"0", "1", "2"}, pages)
}

func TestGetAllObjectsStopsAtTotalPages(t *testing.T) {
	var calls atomic.Int32
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/objects/filterByObjectType": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.URL.Query().Get("page") == "0" {
				_, _ = io.WriteString(w, `{"objects":[{"identifier":"1"},{"identifier":"2"}],"totalCount":4,"totalPages":2,"currentPage":0}`)
				return
			}
			_, _ = io.WriteString(w, `{"objects":[{"identifier":"3"},{"identifier":"4"}],"totalCount":4,"totalPages":2,"currentPage":1}`)
		},
	}}
	c := newTestClient(t, f)

	objects, err := c.GetAllObjects(context.Background(), ObjectQuery{ObjectType: "Building", PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, objects, 4)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGetAllObjectsStopsOnRepeatedPage(t *testing.T) {
	var calls atomic.Int32
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		// ignores the page parameter
		"/v1/objects/filterByObjectType": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) > 10 {
				t.Error("pages are fetched forever")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `[{"identifier":"1"},{"identifier":"2"}]`)
		},
	}}
	c := newTestClient(t, f)

	objects, err := c.GetAllObjects(context.Background(), ObjectQuery{ObjectType: "Building", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "1", objects[0].Identifier)
	assert.Equal(t, "2", objects[1].Identifier)
	assert.EqualValues(t, 2, calls.Load())
}

func TestUpdateObjects(t *testing.T) {
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/objects": func(w http.ResponseWriter, r *http.Request) {
			var body []Object
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body, 1)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Nil(t, body[0].Attributes["Empty"])
			success := r.Method == http.MethodPut
			_ = json.NewEncoder(w).Encode([]ObjectResult{{
				ObjectType: body[0].ObjectType,
				Identifier: body[0].Identifier,
				Success:    success,
				IsCreation: r.Method == http.MethodPost,
				Message:    r.Method,
			}})
		},
	}}
	c := newTestClient(t, f)
	objects := []Object{{
		ObjectType: "Unit",
		Identifier: "OGE-1234",
		Attributes: map[string]interface{}{"Name": "Updated Unit", "Empty": nil},
	}}

	results, err := c.UpdateObjects(context.Background(), objects)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, http.MethodPut, results[0].Message)

	results, err = c.UpsertObjects(context.Background(), objects)
	require.NoError(t, err)
	assert.True(t, results[0].IsCreation)
}

func TestRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/metadata": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = io.WriteString(w, `{"objectTypes":[]}`)
		},
	}}
	c := newTestClient(t, f)

	_, err := c.GetMetadata(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRefreshesTokenOn401(t *testing.T) {
	f := &fakeVIP{}
	f.handlers = map[string]http.HandlerFunc{
		"/v1/metadata": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "Bearer token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"objectTypes":[]}`)
		},
	}
	c := newTestClient(t, f)

	_, err := c.GetMetadata(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.tokens.Load())
}

func TestAPIError(t *testing.T) {
	f := &fakeVIP{handlers: map[string]http.HandlerFunc{
		"/v1/objects": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `bad payload`)
		},
	}}
	c := newTestClient(t, f)

	_, err := c.UpdateObjects(context.Background(), []Object{{Identifier: "x"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad payload", apiErr.Body)
}

func TestAttributeString(t *testing.T) {
	o := Object{Attributes: map[string]interface{}{
		"s": "x", "b": true, "n": float64(12.5), "null": nil,
	}}
	v, ok := o.AttributeString("s")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	v, _ = o.AttributeString("b")
	assert.Equal(t, "true", v)
	v, _ = o.AttributeString("n")
	assert.Equal(t, "12.5", v)
	_, ok = o.AttributeString("null")
	assert.False(t, ok)
	_, ok = o.AttributeString("missing")
	assert.False(t, ok)
}
