package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClassify_Shell(t *testing.T) {
	body := []byte(`<!DOCTYPE html>
<html><head><title>Player</title><script src="/player.js"></script></head>
<body><div id="root"></div><noscript>You need to enable JavaScript.</noscript></body></html>`)

	res := Classify(200, body)
	if res.Disposition != DispositionShell {
		t.Errorf("disposition = %s, want shell", res.Disposition)
	}
}

func TestClassify_Renderable(t *testing.T) {
	body := []byte(`<html><body><article>` + strings.Repeat("Plenty of real text content here. ", 20) + `</article></body></html>`)

	res := Classify(200, body)
	if res.Disposition != DispositionRenderable {
		t.Errorf("disposition = %s, want renderable (text_len %d)", res.Disposition, res.TextLen)
	}
}

func TestClassify_Unreachable(t *testing.T) {
	for _, status := range []int{404, 410, 500, 503} {
		res := Classify(status, []byte("Not Found"))
		if res.Disposition != DispositionUnreachable {
			t.Errorf("status %d: disposition = %s, want unreachable", status, res.Disposition)
		}
	}
}

func TestVisibleText_SkipsScripts(t *testing.T) {
	body := []byte(`<html><body><script>var lots = "of text inside a script tag only";</script><p>hi</p></body></html>`)
	text := visibleText(body)
	if strings.Contains(text, "script tag") {
		t.Error("script content leaked into visible text")
	}
	if !strings.Contains(text, "hi") {
		t.Error("paragraph text missing")
	}
}

func TestCheck_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><body><div id="root"></div></body></html>`))
	}))
	defer srv.Close()

	p := New()

	res, err := p.Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Disposition != DispositionShell {
		t.Errorf("disposition = %s, want shell", res.Disposition)
	}

	res, err = p.Check(context.Background(), srv.URL+"/gone")
	if err != nil {
		t.Fatalf("Check 404: %v", err)
	}
	if res.Disposition != DispositionUnreachable {
		t.Errorf("disposition = %s, want unreachable", res.Disposition)
	}
}
