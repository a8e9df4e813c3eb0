package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newServer(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client())
}

func TestCreateReservation(t *testing.T) {
	t.Run("sends the addresses and returns the reservation", func(t *testing.T) {
		var got createRequest
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/create" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			_ = json.NewEncoder(w).Encode(Reservation{ReserveID: "res-1", ReserveTime: 1700000000})
		}))

		reservation, err := client.CreateReservation(context.Background(), "to addr", "to", "from addr", "from")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reservation.ReserveID != "res-1" || reservation.ReserveTime != 1700000000 {
			t.Errorf("unexpected reservation: %+v", reservation)
		}
		if got.ToAddress != "to addr" || got.FromName != "from" {
			t.Errorf("unexpected request: %+v", got)
		}
	})

	t.Run("empty reserve id is an outage", func(t *testing.T) {
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(Reservation{})
		}))
		_, err := client.CreateReservation(context.Background(), "to", "to", "from", "from")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("connection failure is an outage", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		client := NewClient(server.URL, &http.Client{Timeout: time.Second})

		_, err := client.CreateReservation(context.Background(), "to", "to", "from", "from")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestRequestLabel(t *testing.T) {
	t.Run("returns the label bytes", func(t *testing.T) {
		label := []byte{0x89, 0x50, 0x4e, 0x47}
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/request" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var req labelRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			if req.ReserveID != "res-1" {
				t.Errorf("unexpected reserve id %q", req.ReserveID)
			}
			_, _ = w.Write(label)
		}))

		got, err := client.RequestLabel(context.Background(), "res-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != string(label) {
			t.Errorf("unexpected label bytes: %v", got)
		}
	})

	t.Run("non-200 response is an outage", func(t *testing.T) {
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}))
		_, err := client.RequestLabel(context.Background(), "res-1")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestStatus(t *testing.T) {
	t.Run("passes the reserve id and returns the carrier status", func(t *testing.T) {
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/status" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.URL.Query().Get("reserve_id"); got != "res-1" {
				t.Errorf("unexpected reserve id %q", got)
			}
			_ = json.NewEncoder(w).Encode(statusResponse{Status: CarrierStatusShipping})
		}))

		status, err := client.Status(context.Background(), "res-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != CarrierStatusShipping {
			t.Errorf("expected shipping, got %s", status)
		}
	})

	t.Run("unknown carrier status is an outage", func(t *testing.T) {
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(statusResponse{Status: "teleported"})
		}))
		_, err := client.Status(context.Background(), "res-1")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		client := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := client.Status(ctx, "res-1")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}
