package confluence_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"minutes/internal/services"
	"minutes/internal/services/confluence"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newClient(t *testing.T, url string, retries int) *confluence.Client {
	t.Helper()
	client, err := confluence.NewClient(confluence.Config{
		BaseURL:      url + "/",
		Token:        "pat",
		SpaceKey:     "MEET",
		ParentPageID: "100",
		MaxRetries:   retries,
	}, confluence.WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []confluence.Config{
		{Token: "pat", SpaceKey: "MEET"},
		{BaseURL: "wiki.example", Token: "pat", SpaceKey: "MEET"},
		{BaseURL: "https://wiki.example", SpaceKey: "MEET"},
		{BaseURL: "https://wiki.example", Token: "pat"},
	}
	for _, cfg := range cases {
		if _, err := confluence.NewClient(cfg); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("expected configuration error for %+v, got %v", cfg, err)
		}
	}
}

func TestCreatePageSendsStorageBodyUnderParent(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/content" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer pat" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"42","type":"page","title":"2026-03-04 - Sync","version":{"number":1},"_links":{"webui":"/display/MEET/Sync"}}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	page, err := client.CreatePage(context.Background(), "2026-03-04 - Sync", "<p>hi</p>", "")
	if err != nil {
		t.Fatalf("CreatePage failed: %v", err)
	}
	if page.ID != "42" || page.Version.Number != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := client.URL(page); got != server.URL+"/display/MEET/Sync" {
		t.Fatalf("URL = %q", got)
	}

	ancestors, _ := body["ancestors"].([]any)
	if len(ancestors) != 1 || ancestors[0].(map[string]any)["id"] != "100" {
		t.Fatalf("expected configured parent ancestor, got %v", body["ancestors"])
	}
	storage := body["body"].(map[string]any)["storage"].(map[string]any)
	if storage["value"] != "<p>hi</p>" || storage["representation"] != "storage" {
		t.Fatalf("unexpected storage body: %v", storage)
	}
	if body["space"].(map[string]any)["key"] != "MEET" {
		t.Fatalf("unexpected space: %v", body["space"])
	}
}

func TestUpdatePageIncrementsVersion(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/rest/api/content/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"42","version":{"number":4}}`))
	}))
	defer server.Close()

	page, err := newClient(t, server.URL, 0).UpdatePage(context.Background(), "42", "t", "<p/>", 3)
	if err != nil {
		t.Fatalf("UpdatePage failed: %v", err)
	}
	if page.Version.Number != 4 {
		t.Fatalf("version = %d", page.Version.Number)
	}
	if version := body["version"].(map[string]any)["number"]; version != float64(4) {
		t.Fatalf("sent version %v, want 4", version)
	}
	if body["id"] != "42" {
		t.Fatalf("sent id %v", body["id"])
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   error
		name   string
	}{
		{http.StatusUnauthorized, confluence.ErrAuth, confluence.KindAuth},
		{http.StatusForbidden, confluence.ErrPermission, confluence.KindPermission},
		{http.StatusNotFound, confluence.ErrNotFound, confluence.KindNotFound},
		{http.StatusBadRequest, confluence.ErrValidation, confluence.KindValidation},
		{http.StatusConflict, confluence.ErrValidation, confluence.KindValidation},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "nope", tc.status)
		}))

		_, err := newClient(t, server.URL, 3).GetPage(context.Background(), "1")
		server.Close()
		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
		if got := confluence.KindName(err); got != tc.name {
			t.Fatalf("status %d: KindName = %q, want %q", tc.status, got, tc.name)
		}
		if calls.Load() != 1 {
			t.Fatalf("status %d: expected no retries, got %d calls", tc.status, calls.Load())
		}
		var apiErr *confluence.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected APIError, got %v", tc.status, err)
		}
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"key":"MEET","name":"Meetings"}`))
	}))
	defer server.Close()

	space, err := newClient(t, server.URL, 2).GetSpace(context.Background(), "")
	if err != nil {
		t.Fatalf("GetSpace failed: %v", err)
	}
	if space.Name != "Meetings" || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", space, calls.Load())
	}
}

func TestServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := newClient(t, server.URL, 1).DeletePage(context.Background(), "7")
	if !errors.Is(err, confluence.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestFindPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("spaceKey") != "MEET" || q.Get("expand") != "version" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if strings.Contains(q.Get("title"), "missing") {
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"9","title":"` + q.Get("title") + `","version":{"number":2}}]}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	page, err := client.FindPage(context.Background(), "2026-03-04 - Sync")
	if err != nil || page == nil || page.ID != "9" || page.Version.Number != 2 {
		t.Fatalf("FindPage = %+v, %v", page, err)
	}
	page, err = client.FindPage(context.Background(), "missing page")
	if err != nil || page != nil {
		t.Fatalf("expected no page, got %+v, %v", page, err)
	}
}

func TestNetworkErrorsAreClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newClient(t, url, 1).GetPage(context.Background(), "1")
	if !errors.Is(err, confluence.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if confluence.KindName(err) != confluence.KindNetwork {
		t.Fatalf("KindName = %q", confluence.KindName(err))
	}
}
