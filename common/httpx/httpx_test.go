package httpx

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/config"
)

func testClient(retry int, allow []string) *Client {
	return NewFromConfig(&config.HTTPClientConfig{
		TimeoutMs:              2000,
		Retry:                  retry,
		BackoffMinMs:           1,
		BackoffMaxMs:           2,
		HostAllowlist:          allow,
		MaxConsecutiveFailures: 100,
	}, zap.NewNop())
}

func TestDo_RetriesServerErrorsAndResendsBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt %d got body %q, want payload", atomic.LoadInt32(&calls)+1, body)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := testClient(2, nil).Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := testClient(3, nil).Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestDo_BlocksDisallowedHost(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://evil.example.com/x", nil)
	_, err := testClient(0, []string{"api.example.com"}).Do(req)
	if err != ErrHostNotAllowed {
		t.Fatalf("err = %v, want ErrHostNotAllowed", err)
	}
}

func TestDo_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewFromConfig(&config.HTTPClientConfig{
		TimeoutMs:              2000,
		Retry:                  0,
		BackoffMinMs:           1,
		BackoffMaxMs:           2,
		MaxConsecutiveFailures: 2,
		CircuitOpenSeconds:     60,
	}, zap.NewNop())

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if resp, _ := c.Do(req); resp != nil {
			resp.Body.Close()
		}
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Do(req); err != ErrCircuitOpen {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestMatchHost(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*", "anything.example.com", true},
		{"api.example.com", "api.example.com", true},
		{"api.example.com", "API.EXAMPLE.COM", true},
		{"api.example.com", "other.example.com", false},
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", true},
		{"*.example.com", "example.org", false},
	}
	for _, tc := range cases {
		if got := matchHost(tc.pattern, tc.host); got != tc.want {
			t.Errorf("matchHost(%q, %q) = %v, want %v", tc.pattern, tc.host, got, tc.want)
		}
	}
}

func TestBackoffJitter_Bounds(t *testing.T) {
	min, max := 10*time.Millisecond, 20*time.Millisecond
	for i := 0; i < 50; i++ {
		d := backoffJitter(min, max)
		if d < min || d >= max {
			t.Fatalf("jitter %v outside [%v, %v)", d, min, max)
		}
	}
	if d := backoffJitter(max, min); d != max {
		t.Errorf("inverted bounds should return min arg, got %v", d)
	}
}
