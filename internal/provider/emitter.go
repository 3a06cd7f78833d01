package provider

import (
	"sync"

	"github.com/hitoshi/talentstrike/internal/model"
)

// Emitter は認証状態リスナーの登録と通知を行う。
// AuthClient実装が埋め込んで使う。
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]AuthStateListener
	order     []uint64
}

// NewEmitter はEmitterを生成する。
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[uint64]AuthStateListener)}
}

// Subscribe はリスナーを登録し、購読ハンドルを返す。
func (e *Emitter) Subscribe(listener AuthStateListener) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[id] = listener
	e.order = append(e.order, id)
	return &subscription{emitter: e, id: id}
}

// Emit は登録順に全リスナーへイベントを通知する。
// リスナーはロック外で同期的に呼び出す。
func (e *Emitter) Emit(event AuthChangeEvent, session *model.AuthSession) {
	e.mu.Lock()
	targets := make([]AuthStateListener, 0, len(e.order))
	for _, id := range e.order {
		if l, ok := e.listeners[id]; ok {
			targets = append(targets, l)
		}
	}
	e.mu.Unlock()

	for _, l := range targets {
		l(event, session)
	}
}

// Len は登録中のリスナー数を返す。
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *Emitter) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.listeners[id]; !ok {
		return
	}
	delete(e.listeners, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

type subscription struct {
	emitter *Emitter
	id      uint64
	once    sync.Once
}

// Unsubscribe はリスナーの登録を解除する。複数回呼んでも安全。
func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.emitter.remove(s.id) })
}
