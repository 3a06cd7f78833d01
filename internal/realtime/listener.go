package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Listener はpq.ListenerでChannelsをLISTENし、受信した通知をHubへ渡す。
type Listener struct {
	databaseURL string
	hub         *Hub
	logger      *slog.Logger
}

// NewListener はListenerを生成する。
func NewListener(databaseURL string, hub *Hub, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		databaseURL: databaseURL,
		hub:         hub,
		logger:      logger,
	}
}

// Run はctxが終了するまで通知を受信する。
// 接続断はpq.Listenerが再接続し、再接続直後のnil通知は読み飛ばす。
func (l *Listener) Run(ctx context.Context) error {
	pl := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval, l.onEvent)
	defer pl.Close()

	for _, ch := range Channels {
		if err := pl.Listen(ch); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", ch, err)
		}
	}
	l.logger.Info("realtime listener started",
		slog.Any("channels", Channels),
	)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("realtime listener stopped")
			return nil
		case n := <-pl.Notify:
			if n == nil {
				continue
			}
			l.hub.Publish(n.Channel, []byte(n.Extra))
		case <-ticker.C:
			if err := pl.Ping(); err != nil {
				l.logger.Warn("realtime listener ping failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Debug("realtime listener connected")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("realtime listener disconnected",
			slog.String("error", errString(err)),
		)
	case pq.ListenerEventReconnected:
		l.logger.Info("realtime listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("realtime listener connection attempt failed",
			slog.String("error", errString(err)),
		)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
