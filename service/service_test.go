package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/deckfetch"
	"github.com/hazyhaar/deckfetch/internal/capture"
	"github.com/hazyhaar/deckfetch/internal/store"
)

// fakeDownloader returns a canned result, writing a stub PDF to OutPath.
type fakeDownloader struct {
	result *deckfetch.Result
	err    error
	last   deckfetch.Request
}

func (f *fakeDownloader) Download(ctx context.Context, req deckfetch.Request) (*deckfetch.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(req.OutPath, []byte("%PDF-1.7 stub"), 0o644); err != nil {
		return nil, err
	}
	res := *f.result
	res.Path = req.OutPath
	return &res, nil
}

func testService(t *testing.T, dl Downloader, tokenHash string) (*Service, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	docs, err := store.Open(filepath.Join(dir, "registry.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { docs.Close() })

	return New(Config{
		DataDir:      dir,
		MaxSlides:    15,
		Timeout:      180 * time.Second,
		APITokenHash: tokenHash,
	}, dl, docs, nil), docs
}

func postDownload(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/download", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDownload_Success(t *testing.T) {
	dl := &fakeDownloader{result: &deckfetch.Result{
		Status: capture.StatusDone,
		Slides: 9,
	}}
	svc, _ := testService(t, dl, "")
	h := svc.Router()

	rec := postDownload(t, h, `{"url": "https://pitch.com/v/demo-deck"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Slides      int    `json:"slides"`
			Status      string `json:"status"`
			Base64      string `json:"base64"`
			DownloadURL string `json:"download_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.Slides != 9 || resp.Data.Status != "done" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Data.Base64 == "" {
		t.Error("expected base64 payload by default")
	}
	if resp.Data.DownloadURL == "" {
		t.Error("expected download_url")
	}

	// The produced document is retrievable through the registry route.
	req := httptest.NewRequest(http.MethodGet, resp.Data.DownloadURL, nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("file fetch status = %d", rec2.Code)
	}
	if ct := rec2.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %s", ct)
	}
}

func TestDownload_ValidatesURL(t *testing.T) {
	svc, _ := testService(t, &fakeDownloader{}, "")
	h := svc.Router()

	cases := []string{
		`{}`,
		`{"url": "https://example.com/v/deck"}`,
		`{"url": "https://pitch.com/about"}`,
		`not json`,
	}
	for _, body := range cases {
		rec := postDownload(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestDownload_ErrorKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{deckfetch.ErrNavigationFailed, http.StatusBadGateway, "navigation_failed"},
		{deckfetch.ErrNoFrames, http.StatusInternalServerError, "no_frames_captured"},
		{deckfetch.ErrAssembly, http.StatusInternalServerError, "assembly_failed"},
		{deckfetch.ErrTargetUnreachable, http.StatusBadGateway, "target_unreachable"},
	}
	for _, c := range cases {
		svc, _ := testService(t, &fakeDownloader{err: c.err}, "")
		rec := postDownload(t, svc.Router(), `{"url": "https://pitch.com/v/demo"}`)
		if rec.Code != c.status {
			t.Errorf("%v: status = %d, want %d", c.err, rec.Code, c.status)
		}
		var resp downloadResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Kind != c.kind {
			t.Errorf("%v: kind = %s, want %s", c.err, resp.Kind, c.kind)
		}
	}
}

func TestDownload_PartialReported(t *testing.T) {
	dl := &fakeDownloader{result: &deckfetch.Result{
		Status:  capture.StatusDone,
		Partial: true,
		Slides:  4,
	}}
	svc, _ := testService(t, dl, "")

	rec := postDownload(t, svc.Router(), `{"url": "https://pitch.com/v/demo", "format": "url"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data struct {
			Partial bool   `json:"partial"`
			Base64  string `json:"base64"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.Partial {
		t.Error("partial flag lost")
	}
	if resp.Data.Base64 != "" {
		t.Error("format url must not inline base64")
	}
}

func TestFile_NotFound(t *testing.T) {
	svc, _ := testService(t, &fakeDownloader{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/files/nope", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	dl := &fakeDownloader{result: &deckfetch.Result{Status: capture.StatusDone, Slides: 1}}
	svc, _ := testService(t, dl, string(hash))
	h := svc.Router()

	// No token.
	rec := postDownload(t, h, `{"url": "https://pitch.com/v/demo"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodPost, "/api/download", bytes.NewReader([]byte(`{"url": "https://pitch.com/v/demo"}`)))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/api/download", bytes.NewReader([]byte(`{"url": "https://pitch.com/v/demo"}`)))
	req.Header.Set("Authorization", "Bearer sesame")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestLimits(t *testing.T) {
	svc, _ := testService(t, &fakeDownloader{}, "")
	req := httptest.NewRequest(http.MethodGet, "/limits", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	var resp struct {
		MaxSlides int `json:"max_slides"`
		Timeout   int `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MaxSlides != 15 || resp.Timeout != 180 {
		t.Errorf("limits = %+v", resp)
	}
}
