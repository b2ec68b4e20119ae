package wordchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPDictionary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/entries/") {
		case "apple":
			_, _ = w.Write([]byte(`[{"word":"apple"}]`))
		case "zzzq":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	d := NewHTTPDictionary(srv.URL+"/entries", time.Second)
	ctx := context.Background()

	if ok, err := d.IsWord(ctx, "Apple"); err != nil || !ok {
		t.Fatalf("apple = %v, %v", ok, err)
	}
	if ok, err := d.IsWord(ctx, "zzzq"); err != nil || ok {
		t.Fatalf("zzzq = %v, %v", ok, err)
	}
	if _, err := d.IsWord(ctx, "limited"); err == nil {
		t.Fatalf("expected error on 429")
	}
}

func TestHTTPDictionaryTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewHTTPDictionary(srv.URL, 50*time.Millisecond)
	start := time.Now()
	if _, err := d.IsWord(context.Background(), "slow"); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("lookup not bounded by timeout")
	}
}
