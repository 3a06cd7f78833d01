package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/talentstrike/internal/realtime"
)

func newStreamServer(t *testing.T, hub *realtime.Hub, heartbeat time.Duration) *httptest.Server {
	t.Helper()
	h := NewStreamHandler(hub)
	h.heartbeat = heartbeat
	r := chi.NewRouter()
	r.Get("/api/stream/{channel}", h.Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func openStream(t *testing.T, ctx context.Context, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readUntil はprefixで始まる行が来るまで読み進め、その行を返す。
func readUntil(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before %q: %v", prefix, err)
		}
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_DeliversChangeEvents(t *testing.T) {
	hub := newTestHub(t)
	srv := newStreamServer(t, hub, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, r := openStream(t, ctx, srv.URL+"/api/stream/jobs")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	readUntil(t, r, ": subscribed jobs")
	waitFor(t, func() bool { return hub.Len(realtime.ChannelJobs) == 1 })

	// 別チャネルの通知は届かない
	hub.Publish(realtime.ChannelApplications, []byte(`{"op":"UPDATE","table":"applications","id":"app-1"}`))
	hub.Publish(realtime.ChannelJobs, []byte(`{"op":"INSERT","table":"jobs","id":"job-1","status":"open"}`))

	if got := readUntil(t, r, "event:"); got != "event: jobs" {
		t.Errorf("event line = %q", got)
	}
	data := strings.TrimPrefix(readUntil(t, r, "data:"), "data: ")
	var ev realtime.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.Channel != realtime.ChannelJobs || ev.ID != "job-1" || ev.Op != "INSERT" || ev.Status != "open" {
		t.Errorf("event = %+v", ev)
	}
}

func TestStream_UnsubscribesOnDisconnect(t *testing.T) {
	hub := newTestHub(t)
	srv := newStreamServer(t, hub, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	_, r := openStream(t, ctx, srv.URL+"/api/stream/applications")
	readUntil(t, r, ": subscribed")
	waitFor(t, func() bool { return hub.Len(realtime.ChannelApplications) == 1 })

	cancel()
	waitFor(t, func() bool { return hub.Len(realtime.ChannelApplications) == 0 })
}

func TestStream_Heartbeat(t *testing.T) {
	hub := newTestHub(t)
	srv := newStreamServer(t, hub, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, r := openStream(t, ctx, srv.URL+"/api/stream/jobs")

	readUntil(t, r, ": ping")
}

func TestStream_EndsWhenHubCloses(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	srv := newStreamServer(t, hub, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, r := openStream(t, ctx, srv.URL+"/api/stream/jobs")
	readUntil(t, r, ": subscribed")
	waitFor(t, func() bool { return hub.Len(realtime.ChannelJobs) == 1 })

	hub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Hub終了後もストリームが閉じない")
	}
}

func TestStream_UnknownChannel(t *testing.T) {
	h := NewStreamHandler(newTestHub(t))

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/stream/companies", nil), "channel", "companies")
	w := httptest.NewRecorder()
	h.Stream(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
