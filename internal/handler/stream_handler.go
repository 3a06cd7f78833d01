package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/realtime"
)

const defaultHeartbeatInterval = 25 * time.Second

// ChangeSubscriber は変更通知の購読を提供する。realtime.Hubが実装する。
type ChangeSubscriber interface {
	Subscribe(channel string) *realtime.Subscription
}

// StreamHandler は変更通知をServer-Sent Eventsとして配信するHTTPハンドラー。
type StreamHandler struct {
	hub       ChangeSubscriber
	heartbeat time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。
func NewStreamHandler(hub ChangeSubscriber) *StreamHandler {
	return &StreamHandler{hub: hub, heartbeat: defaultHeartbeatInterval}
}

// Stream は指定ストリーム（jobs, applications）の変更通知を配信する。
// クライアントが切断するか、Hubが閉じられるまで接続を保持する。
// GET /api/stream/{channel}
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "channel")
	channel, ok := realtime.ChannelFor(stream)
	if !ok {
		writeError(w, r, model.NewInvalidFilterError("channel", stream))
		return
	}

	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutで切断されないように書き込み期限を解除する
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("write deadline not supported", slog.String("error", err.Error()))
	}

	sub := h.hub.Subscribe(channel)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: 5000\n: subscribed %s\n\n", stream)
	if err := rc.Flush(); err != nil {
		slog.Error("streaming not supported", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to encode change event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", stream, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
