package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}

		var got event
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got.UserID != 7 || got.Message != "direct referral commission 50.00 usdt" || got.Type != "direct" {
			t.Fatalf("unexpected event: %+v", got)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Send(ctx, 7, "direct referral commission 50.00 usdt", "direct"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestSend_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Send(ctx, 7, "msg", "direct"); err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	client := NewClient("")

	if err := client.Send(context.Background(), 1, "msg", "direct"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
