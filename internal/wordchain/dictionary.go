package wordchain

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Dictionary reports whether word is a real word. An error means the lookup
// itself failed; callers accept the word in that case.
type Dictionary interface {
	IsWord(ctx context.Context, word string) (bool, error)
}

// DictionaryFunc adapts a function to Dictionary.
type DictionaryFunc func(ctx context.Context, word string) (bool, error)

func (f DictionaryFunc) IsWord(ctx context.Context, word string) (bool, error) { return f(ctx, word) }

// HTTPDictionary looks words up with GET <base><word>: 200 is a word, 404 is
// not, anything else is an error.
type HTTPDictionary struct {
	base    string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewHTTPDictionary(baseURL string, timeout time.Duration) *HTTPDictionary {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPDictionary{
		base:    baseURL,
		http:    &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout, MaxConnsPerHost: 16},
		timeout: timeout,
	}
}

func (d *HTTPDictionary) IsWord(ctx context.Context, word string) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(d.base + url.PathEscape(strings.ToLower(strings.TrimSpace(word))))

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.http.DoDeadline(req, resp, deadline); err != nil {
		return false, fmt.Errorf("dictionary lookup: %w", err)
	}
	switch status := resp.StatusCode(); status {
	case fasthttp.StatusOK:
		return true, nil
	case fasthttp.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("dictionary lookup: status=%d", status)
	}
}
