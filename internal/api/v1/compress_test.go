package v1

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func TestCompressEncodings(t *testing.T) {
	body := strings.Repeat(`{"ok":true}`, 64)
	h := compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))

	cases := []struct {
		accept string
		want   string
		decode func(io.Reader) (io.Reader, error)
	}{
		{"zstd, gzip", "zstd", func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }},
		{"gzip", "gzip", func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }},
		{"", "", func(r io.Reader) (io.Reader, error) { return r, nil }},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.accept != "" {
			req.Header.Set("Accept-Encoding", tc.accept)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Content-Encoding"); got != tc.want {
			t.Fatalf("accept %q: encoding = %q, want %q", tc.accept, got, tc.want)
		}
		rd, err := tc.decode(rec.Body)
		if err != nil {
			t.Fatalf("accept %q: %v", tc.accept, err)
		}
		out, err := io.ReadAll(rd)
		if err != nil {
			t.Fatalf("accept %q: %v", tc.accept, err)
		}
		if string(out) != body {
			t.Fatalf("accept %q: body mismatch", tc.accept)
		}
	}
}

func TestCompressSkipsNoContent(t *testing.T) {
	h := compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.Len() != 0 {
		t.Fatalf("204 must stay unencoded, got %q / %d bytes", rec.Header().Get("Content-Encoding"), rec.Body.Len())
	}
}
