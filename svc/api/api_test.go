package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"pastebox/cfg"
	"pastebox/pkg/domain"
	"pastebox/svc/cache"
	"pastebox/svc/db"
	"pastebox/svc/svc"
	"strconv"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downStore struct{ *db.Memory }

func (downStore) Ping(context.Context) error {
	return errors.Wrap(domain.ErrStoreUnavailable, "connection refused")
}

func newTestServer(t *testing.T, store svc.Store, mutate func(*cfg.Cfg)) *httpexpect.Expect {
	t.Helper()
	c := cfg.Default()
	c.TestMode = true
	c.StoreDriver = cfg.DriverMemory
	if mutate != nil {
		mutate(c)
	}
	if store == nil {
		store = db.NewMemory()
	}
	lru, err := cache.NewLRU(100)
	require.NoError(t, err)
	graves, err := cache.NewTombstones(100)
	require.NoError(t, err)
	engine := svc.NewPaste(store, svc.Options{Cache: lru, Tombstones: graves})
	srv, err := NewServer(c, engine)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return httpexpect.Default(t, ts.URL)
}

func nowMs(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func createPaste(e *httpexpect.Expect, body map[string]any) string {
	return e.POST("/api/pastes").WithJSON(body).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("id").String().NotEmpty().Raw()
}

func TestCreateReturnsIDAndURL(t *testing.T) {
	e := newTestServer(t, nil, nil)
	obj := e.POST("/api/pastes").
		WithHeader("X-Forwarded-Proto", "https").
		WithJSON(map[string]any{"content": "hello"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	id := obj.Value("id").String().Raw()
	assert.Len(t, id, 10)
	obj.Value("url").String().HasPrefix("https://").HasSuffix("/p/" + id)
}

func TestCreateUsesBaseURL(t *testing.T) {
	e := newTestServer(t, nil, func(c *cfg.Cfg) { c.BaseURL = "https://paste.example.com" })
	obj := e.POST("/api/pastes").WithJSON(map[string]any{"content": "hello"}).
		Expect().Status(http.StatusOK).JSON().Object()
	id := obj.Value("id").String().Raw()
	obj.Value("url").String().IsEqual("https://paste.example.com/p/" + id)
}

func TestCreateValidation(t *testing.T) {
	e := newTestServer(t, nil, nil)
	cases := []struct {
		name string
		body any
		msg  string
	}{
		{"missing content", map[string]any{}, "content is required"},
		{"empty content", map[string]any{"content": ""}, "content is required"},
		{"blank content", map[string]any{"content": "   \n"}, "content is required"},
		{"zero ttl", map[string]any{"content": "x", "ttl_seconds": 0}, "ttl_seconds must be >= 1"},
		{"zero views", map[string]any{"content": "x", "max_views": 0}, "max_views must be >= 1"},
		{"non-string content", map[string]any{"content": 42}, "invalid request"},
		{"fractional ttl", map[string]any{"content": "x", "ttl_seconds": 1.5}, "invalid request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e.POST("/api/pastes").WithJSON(tc.body).
				Expect().
				Status(http.StatusBadRequest).
				JSON().Object().
				HasValue("error", tc.msg)
		})
	}
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	e := newTestServer(t, nil, nil)
	e.POST("/api/pastes").
		WithHeader("Content-Type", "application/json").
		WithText("{not json").
		Expect().
		Status(http.StatusBadRequest)
}

func TestSingleViewPaste(t *testing.T) {
	e := newTestServer(t, nil, nil)
	id := createPaste(e, map[string]any{"content": "hello", "max_views": 1})

	obj := e.GET("/api/pastes/{id}", id).Expect().Status(http.StatusOK).JSON().Object()
	obj.HasValue("content", "hello")
	obj.HasValue("remaining_views", 0)
	obj.Value("expires_at").IsNull()

	e.GET("/api/pastes/{id}", id).Expect().
		Status(http.StatusNotFound).
		JSON().Object().HasValue("error", "paste not found")
}

func TestTTLWithTestClock(t *testing.T) {
	e := newTestServer(t, nil, nil)
	before := time.Now()
	id := createPaste(e, map[string]any{"content": "hi", "ttl_seconds": 60})
	after := time.Now()

	obj := e.GET("/api/pastes/{id}", id).
		WithHeader(testNowHeader, nowMs(before.Add(59*time.Second))).
		Expect().Status(http.StatusOK).JSON().Object()
	obj.HasValue("content", "hi")
	obj.Value("remaining_views").IsNull()
	exp, err := time.Parse(time.RFC3339Nano, obj.Value("expires_at").String().Raw())
	require.NoError(t, err)
	assert.False(t, exp.Before(before.Add(60*time.Second).Truncate(time.Millisecond)))
	assert.False(t, exp.After(after.Add(60*time.Second)))

	e.GET("/api/pastes/{id}", id).
		WithHeader(testNowHeader, nowMs(after.Add(61*time.Second))).
		Expect().Status(http.StatusNotFound).
		JSON().Object().HasValue("error", "paste not found")
}

func TestTestClockIgnoredOutsideTestMode(t *testing.T) {
	e := newTestServer(t, nil, func(c *cfg.Cfg) { c.TestMode = false })
	id := createPaste(e, map[string]any{"content": "hi", "ttl_seconds": 60})
	e.GET("/api/pastes/{id}", id).
		WithHeader(testNowHeader, nowMs(time.Now().Add(24*time.Hour))).
		Expect().Status(http.StatusOK)
}

func TestMalformedTestClock(t *testing.T) {
	e := newTestServer(t, nil, nil)
	id := createPaste(e, map[string]any{"content": "hi"})
	e.GET("/api/pastes/{id}", id).
		WithHeader(testNowHeader, "yesterday").
		Expect().Status(http.StatusBadRequest)
}

func TestUnknownPaste(t *testing.T) {
	e := newTestServer(t, nil, nil)
	e.GET("/api/pastes/{id}", "neverCreated1").Expect().
		Status(http.StatusNotFound).
		JSON().Object().HasValue("error", "paste not found")
	e.GET("/api/pastes/{id}", "bad-id!").Expect().Status(http.StatusNotFound)
}

func TestContentRoundTripsExactly(t *testing.T) {
	e := newTestServer(t, nil, nil)
	for _, content := range []string{
		"cafe\u0301",
		"\u212b ohm \u2126 e\u0301",
		"tabs\tand\r\nCRLF  trailing  ",
		"<script>&amp;</script>",
	} {
		id := createPaste(e, map[string]any{"content": content})
		got := e.GET("/api/pastes/{id}", id).Expect().
			Status(http.StatusOK).
			JSON().Object().Value("content").String().Raw()
		assert.Equal(t, []byte(content), []byte(got))
	}
}

func TestHTMLViewLocalisesViewCount(t *testing.T) {
	e := newTestServer(t, nil, nil)
	id := createPaste(e, map[string]any{"content": "many", "max_views": 1500})
	e.GET("/p/{id}", id).WithHeader("Accept-Language", "de-DE,de;q=0.9").
		Expect().Status(http.StatusOK).
		Body().Contains("1.499 view(s) left")
	e.GET("/p/{id}", id).WithHeader("Accept-Language", "en-US").
		Expect().Status(http.StatusOK).
		Body().Contains("1,498 view(s) left")
}

func TestHTMLView(t *testing.T) {
	e := newTestServer(t, nil, nil)
	id := createPaste(e, map[string]any{"content": "<b>hi</b>", "max_views": 2})

	resp := e.GET("/p/{id}", id).Expect().Status(http.StatusOK)
	resp.Header("Content-Type").HasPrefix("text/html")
	body := resp.Body()
	body.Contains("&lt;b&gt;hi&lt;/b&gt;")
	body.NotContains("<b>hi</b>")
	body.Contains("1 view(s) left")

	e.GET("/api/pastes/{id}", id).Expect().Status(http.StatusOK).
		JSON().Object().HasValue("remaining_views", 0)
	e.GET("/p/{id}", id).Expect().Status(http.StatusNotFound).
		Body().Contains("does not exist")
}

func TestIndexAndStatic(t *testing.T) {
	e := newTestServer(t, nil, nil)
	e.GET("/").Expect().Status(http.StatusOK).Body().Contains(`id="paste-form"`)
	e.GET("/static/app.js").Expect().Status(http.StatusOK).Body().Contains("/api/pastes")
}

func TestHealthz(t *testing.T) {
	e := newTestServer(t, nil, nil)
	e.GET("/api/healthz").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("ok", true).HasValue("store", "up")
	e.GET("/health").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("status", "ok")

	down := newTestServer(t, downStore{db.NewMemory()}, nil)
	down.GET("/api/healthz").Expect().Status(http.StatusServiceUnavailable).
		JSON().Object().HasValue("ok", false)
}

func TestRequestIDPropagation(t *testing.T) {
	e := newTestServer(t, nil, nil)
	const rid = "3f1c8a52-2a0e-4c55-9a4b-6f2d2c1e9b10"
	e.GET("/api/healthz").WithHeader("X-Request-ID", rid).Expect().
		Header("X-Request-ID").IsEqual(rid)
	e.GET("/api/healthz").WithHeader("X-Request-ID", "not-a-uuid").Expect().
		Header("X-Request-ID").NotEqual("not-a-uuid")
}

func TestMetricsAuth(t *testing.T) {
	e := newTestServer(t, nil, func(c *cfg.Cfg) {
		c.MetricsUser = "prom"
		c.MetricsPass = cfg.NewSecret("s3cret")
	})
	e.GET("/metrics").Expect().Status(http.StatusUnauthorized)
	e.GET("/metrics").WithBasicAuth("prom", "s3cret").Expect().
		Status(http.StatusOK).
		Body().Contains("pastebox_paste_created_total")
}
