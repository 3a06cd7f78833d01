// Package realtime はPostgresのLISTEN/NOTIFYで受けた変更通知を購読者へ配信する。
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// 通知チャネル名。トリガー（notify_table_change）の引数と一致させる。
const (
	ChannelJobs         = "jobs_changes"
	ChannelApplications = "applications_changes"
)

// Channels は購読可能な全チャネル。
var Channels = []string{ChannelJobs, ChannelApplications}

const defaultBufferSize = 16

// ChannelFor はストリーム名（jobs, applications）をチャネル名に変換する。
func ChannelFor(stream string) (string, bool) {
	switch stream {
	case "jobs":
		return ChannelJobs, true
	case "applications":
		return ChannelApplications, true
	default:
		return "", false
	}
}

// Event は1件の変更通知。
type Event struct {
	Channel string    `json:"channel"`
	Op      string    `json:"op"`
	Table   string    `json:"table"`
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// Observer は配信の計測を受け取る。
type Observer interface {
	RecordRealtimeNotification(channel string)
	SetRealtimeSubscribers(channel string, n int)
}

type noopObserver struct{}

func (noopObserver) RecordRealtimeNotification(string)  {}
func (noopObserver) SetRealtimeSubscribers(string, int) {}

// Hub はチャネルごとの購読者を管理し、通知をファンアウトする。
type Hub struct {
	logger     *slog.Logger
	observer   Observer
	bufferSize int

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan Event
	closed bool
}

// NewHub はHubを生成する。observerはnil可。
func NewHub(logger *slog.Logger, observer Observer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Hub{
		logger:     logger,
		observer:   observer,
		bufferSize: defaultBufferSize,
		subs:       make(map[string]map[uint64]chan Event),
	}
}

// Subscription は1つの購読。Cから通知を受け取り、終了時にCloseを呼ぶ。
type Subscription struct {
	C <-chan Event

	hub     *Hub
	channel string
	id      uint64
	once    sync.Once
}

// Close は購読を解除してCを閉じる。複数回呼んでもよい。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.channel, s.id)
	})
}

// Subscribe はチャネルの購読を開始する。Hubが閉じている場合はCが閉じた購読を返す。
func (h *Hub) Subscribe(channel string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.bufferSize)
	h.nextID++
	sub := &Subscription{C: ch, hub: h, channel: channel, id: h.nextID}

	if h.closed {
		close(ch)
		return sub
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[uint64]chan Event)
	}
	h.subs[channel][sub.id] = ch
	h.observer.SetRealtimeSubscribers(channel, len(h.subs[channel]))
	return sub
}

func (h *Hub) remove(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[channel][id]
	if !ok {
		return
	}
	delete(h.subs[channel], id)
	close(ch)
	h.observer.SetRealtimeSubscribers(channel, len(h.subs[channel]))
}

// Publish はNOTIFYのペイロードをデコードして購読者へ配信する。
// バッファが埋まっている購読者への通知は破棄する。
func (h *Hub) Publish(channel string, payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.logger.Warn("invalid change notification payload",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	ev.Channel = channel
	h.observer.RecordRealtimeNotification(channel)

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[channel] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropped change notification for slow subscriber",
				slog.String("channel", channel),
				slog.Uint64("subscriber", id),
			)
		}
	}
}

// Len はチャネルの購読者数を返す。
func (h *Hub) Len(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

// Close は全ての購読を閉じる。以降のSubscribeは閉じた購読を返す。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for channel, subs := range h.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		h.observer.SetRealtimeSubscribers(channel, 0)
	}
}
