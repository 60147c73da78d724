// Package broadcast рассылает события жизненного цикла ссылок подключённым наблюдателям.
//
// Доставка без хранения: наблюдатель получает только события, опубликованные
// после подписки. Порядок сохраняется для одного публикатора.
package broadcast

import (
	"context"
	"sync"

	"github.com/SergeiKhy/shortlink/internal/models"
	"go.uber.org/zap"
)

const defaultBufferSize = 64

// Broadcaster единый логический топик событий
type Broadcaster interface {
	Publish(ctx context.Context, event models.LinkEvent) error
	Subscribe() *Subscription
	Close() error
}

// Subscription подписка одного наблюдателя. C закрывается при Close,
// при закрытии хаба или если наблюдатель не успевает читать.
type Subscription struct {
	C <-chan models.LinkEvent

	id  uint64
	hub *Hub
}

// Close отписывает наблюдателя; повторный вызов безопасен
func (s *Subscription) Close() {
	s.hub.remove(s.id)
}

// Hub рассылка внутри процесса
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]chan models.LinkEvent
	nextID     uint64
	bufferSize int
	closed     bool
	logger     *zap.Logger
}

// NewHub bufferSize размер очереди каждого подписчика
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		subs:       make(map[uint64]chan models.LinkEvent),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan models.LinkEvent, h.bufferSize)
	sub := &Subscription{C: ch, id: h.nextID, hub: h}

	if h.closed {
		close(ch)
		return sub
	}

	h.subs[sub.id] = ch
	return sub
}

// Publish не блокируется на медленных подписчиках: переполненный канал
// означает, что наблюдатель отстал, и его подписка закрывается.
func (h *Hub) Publish(_ context.Context, event models.LinkEvent) error {
	var lagging []uint64

	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range lagging {
		h.logger.Warn("Подписчик не успевает читать события, отключаем",
			zap.Uint64("subscriber_id", id),
			zap.Int64("link_id", event.LinkID),
		)
		h.remove(id)
	}

	return nil
}

// SubscriberCount число активных подписок
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close закрывает все подписки; новые подписки сразу закрыты
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	return nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}
