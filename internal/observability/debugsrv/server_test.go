package debugsrv

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "surveybot/pkg/logx"
)

func TestHandlerAuth(t *testing.T) {
	t.Parallel()

	s := New(Config{Token: "sekret"}, func() any { return map[string]int{"surveys": 3} }, logx.Nop())
	h := s.Handler()

	for _, tc := range []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing token", "/debug/status", "", http.StatusUnauthorized},
		{"wrong token", "/debug/status?token=nope", "", http.StatusUnauthorized},
		{"query token", "/debug/status?token=sekret", "", http.StatusOK},
		{"bearer token", "/healthz", "Bearer sekret", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/status?token=sekret", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"surveys": 3`) {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Start err = %v, want ErrInsecureBind", err)
	}
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("Addr after Stop = %q", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
