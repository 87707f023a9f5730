package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEvent(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path want /loki/api/v1/push, got %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad push body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := PushEvent(context.Background(), srv.URL, time.Now(), `{"k":"v"}`, map[string]string{"event_type": "login_failure"})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("want 1 stream, got %d", len(got.Streams))
	}
	st := got.Streams[0]
	if st.Stream["job"] != "authguard" {
		t.Errorf("job label want authguard, got %q", st.Stream["job"])
	}
	if st.Stream["event_type"] != "login_failure" {
		t.Errorf("event_type label want login_failure, got %q", st.Stream["event_type"])
	}
	if len(st.Values) != 1 || st.Values[0][1] != `{"k":"v"}` {
		t.Errorf("unexpected values: %v", st.Values)
	}
}

func TestPushEvent_SanitizesLabels(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := PushEvent(context.Background(), srv.URL, time.Now(), "line", map[string]string{"account_id": "a b/c"})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if got.Streams[0].Stream["account_id"] != "a_b_c" {
		t.Errorf("label not sanitized: %q", got.Streams[0].Stream["account_id"])
	}
}

func TestPushEvent_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := PushEvent(context.Background(), srv.URL, time.Now(), "line", nil); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestPushEventJSON_ExtractsLabels(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	raw := []byte(`{"accountId":"a1","eventType":"lockout","occurredAt":"2026-01-02T03:04:05Z","success":false}`)
	if err := PushEventJSON(context.Background(), srv.URL, raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	st := got.Streams[0]
	if st.Stream["account_id"] != "a1" || st.Stream["event_type"] != "lockout" || st.Stream["success"] != "false" {
		t.Errorf("labels not extracted: %v", st.Stream)
	}
	if st.Values[0][0] != "1767323045000000000" {
		t.Errorf("timestamp want event time in ns, got %s", st.Values[0][0])
	}
}

func TestPushEventJSON_MalformedFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := PushEventJSON(context.Background(), srv.URL, []byte("{not json")); err != nil {
		t.Fatalf("malformed line should still push: %v", err)
	}
}

func TestPushEvent_EmptyURL(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "line", nil); err == nil {
		t.Fatal("empty base URL should error")
	}
}
