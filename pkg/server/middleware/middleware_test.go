package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"leadlove-hq/meter/pkg/telemetry/logging"
)

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.GetRequestID(r.Context()) == "" {
			t.Error("Request ID should not be empty")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if len(w.Header().Get(RequestIDHeader)) != 36 {
			t.Errorf("Expected a uuid request ID, got %q", w.Header().Get(RequestIDHeader))
		}
	})

	t.Run("uses provided request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "custom-request-id-12345")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != "custom-request-id-12345" {
			t.Errorf("Request ID = %v, want custom-request-id-12345", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		long := make([]byte, maxRequestIDLength+1)
		for i := range long {
			long[i] = 'a'
		}
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, string(long))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got == string(long) {
			t.Error("Expected oversized request ID to be replaced")
		}
	})

	t.Run("generates unique IDs for different requests", func(t *testing.T) {
		w1 := httptest.NewRecorder()
		handler.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/test", nil))
		w2 := httptest.NewRecorder()
		handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w1.Header().Get(RequestIDHeader) == w2.Header().Get(RequestIDHeader) {
			t.Errorf("Request IDs should be unique, got %s for both", w1.Header().Get(RequestIDHeader))
		}
	})
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusInternalServerError)
		}
		if resp := decodeError(t, w); resp.Error.Code != CodeInternal {
			t.Errorf("Expected code %s, got %s", CodeInternal, resp.Error.Code)
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusOK)
		}
		if w.Body.String() != "OK" {
			t.Errorf("Body = %v, want OK", w.Body.String())
		}
	})
}

func TestLogging_CapturesStatus(t *testing.T) {
	var captured *responseWriter
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	if captured == nil || captured.statusCode != http.StatusTeapot {
		t.Errorf("Expected captured status 418, got %+v", captured)
	}
}

func TestInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	handler := InFlight(1, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			entered <- struct{}{}
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))

	request := func(path, principal string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if principal != "" {
			req.Header.Set("X-Principal-ID", principal)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		request("/slow", "user-1")
	}()
	<-entered

	if w := request("/fast", "user-1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 for second request, got %d", w.Code)
	}
	if w := request("/fast", "user-2"); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for other principal, got %d", w.Code)
	}
	if w := request("/fast", ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 without principal, got %d", w.Code)
	}

	close(release)
	wg.Wait()

	if w := request("/fast", "user-1"); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after release, got %d", w.Code)
	}
}

func TestInFlight_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := InFlight(0, "")(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Principal-ID", "user-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
