package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestClientGetAppliesAuthAndHeaders(t *testing.T) {
	var gotAPIKey, gotInstToken, gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-ELS-APIKey")
		gotInstToken = r.Header.Get("X-ELS-Insttoken")
		gotUserAgent = r.Header.Get("User-Agent")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	c := New(&Config{
		BaseURL: server.URL,
		Auth:    ElsevierAuth{APIKey: "key-1", InstToken: "tok-1"},
	})

	resp, err := c.Get(context.Background(), "/content/search/scopus", url.Values{"query": {"AU-ID(1)"}})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsSuccess() {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if gotAPIKey != "key-1" || gotInstToken != "tok-1" {
		t.Fatalf("auth headers not applied: %q %q", gotAPIKey, gotInstToken)
	}
	if gotUserAgent != "SVP-Harvest/1.0" {
		t.Fatalf("unexpected user agent %q", gotUserAgent)
	}

	var body struct {
		OK bool `json:"ok"`
	}
	if err := resp.JSON(&body); err != nil || !body.OK {
		t.Fatalf("JSON decode failed: %v %+v", err, body)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, MaxRetries: 3, RateLimit: 1000, RateBurst: 10})
	if _, err := c.Get(context.Background(), "/", nil); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such author", http.StatusNotFound)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, MaxRetries: 3, RateLimit: 1000, RateBurst: 10})
	_, err := c.Get(context.Background(), "/", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsNotFound() {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", calls.Load())
	}
}

func TestOffsetPaginatorWalksAllPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		switch start {
		case "0":
			fmt.Fprint(w, `{"response":{"numFound":3,"docs":[{"docid":"1"},{"docid":"2"}]}}`)
		case "2":
			fmt.Fprint(w, `{"response":{"numFound":3,"docs":[{"docid":"3"}]}}`)
		default:
			t.Errorf("unexpected start %q", start)
		}
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, RateLimit: 1000, RateBurst: 10})
	p := NewOffsetPaginator("/search", 2, url.Values{"q": {"authIdHal_s:x"}})

	it := NewPaginatedIterator(context.Background(), c, p.FirstPage(), p, func(resp *Response) ([]string, error) {
		var data struct {
			Response struct {
				Docs []struct {
					DocID string `json:"docid"`
				} `json:"docs"`
			} `json:"response"`
		}
		if err := resp.JSON(&data); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(data.Response.Docs))
		for _, d := range data.Response.Docs {
			ids = append(ids, d.DocID)
		}
		return ids, nil
	})

	var got []string
	for it.Next() {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestCursorPaginatorFollowsNextCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		switch cursor {
		case "*":
			fmt.Fprint(w, `{"meta":{"next_cursor":"abc"},"results":[{"id":"W1"}]}`)
		case "abc":
			fmt.Fprint(w, `{"meta":{"next_cursor":null},"results":[{"id":"W2"}]}`)
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, RateLimit: 1000, RateBurst: 10})
	p := NewCursorPaginator("/works", 25, url.Values{"filter": {"author.orcid:0000-0001-2345-6789"}})

	it := NewPaginatedIterator(context.Background(), c, p.FirstPage(), p, func(resp *Response) ([]string, error) {
		var data struct {
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
		}
		if err := resp.JSON(&data); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(data.Results))
		for _, r := range data.Results {
			ids = append(ids, r.ID)
		}
		return ids, nil
	})

	var got []string
	for it.Next() {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "W1" || got[1] != "W2" {
		t.Fatalf("unexpected ids %v", got)
	}
}
