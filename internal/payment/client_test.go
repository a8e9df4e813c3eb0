package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "11", server.Client())
}

func TestCharge(t *testing.T) {
	t.Run("successful charge sends shop id, token and price", func(t *testing.T) {
		var got tokenRequest
		client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/token" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			_ = json.NewEncoder(w).Encode(tokenResponse{Status: "ok"})
		})

		if err := client.Charge(context.Background(), "tok-1", 1500); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ShopID != "11" || got.Token != "tok-1" || got.Price != 1500 {
			t.Errorf("unexpected request: %+v", got)
		}
	})

	t.Run("invalid and fail statuses are declines", func(t *testing.T) {
		for _, status := range []string{"invalid", "fail"} {
			client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tokenResponse{Status: status})
			})
			err := client.Charge(context.Background(), "tok-1", 1500)
			if !errors.Is(err, ErrDeclined) {
				t.Errorf("status %s: expected ErrDeclined, got %v", status, err)
			}
			if errors.Is(err, ErrUnavailable) {
				t.Errorf("status %s: a decline must not look like an outage", status)
			}
		}
	})

	t.Run("unknown status is an outage, not a decline", func(t *testing.T) {
		client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(tokenResponse{Status: "maybe"})
		})
		err := client.Charge(context.Background(), "tok-1", 1500)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("non-200 response is an outage", func(t *testing.T) {
		client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
		err := client.Charge(context.Background(), "tok-1", 1500)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("connection failure is an outage", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		client := NewClient(server.URL, "11", &http.Client{Timeout: time.Second})

		err := client.Charge(context.Background(), "tok-1", 1500)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server detects the client disconnect;
			// otherwise r.Context() is never canceled and Close deadlocks.
			_, _ = io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := client.Charge(ctx, "tok-1", 1500)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}
