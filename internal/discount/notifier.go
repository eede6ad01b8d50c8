package discount

import (
	"sync"

	"github.com/Wuchinator/monetai-go/internal/remote"
	"go.uber.org/zap"
)

// Handler receives the cached discount after every cache transition, nil
// meaning "no discount". It runs on the goroutine that caused the transition
// and must not block; UI callers marshal to their own loop.
type Handler func(d *remote.Discount)

// Notifier is a single-slot subscription. Registering replaces the previous handler.
type Notifier struct {
	mu      sync.Mutex
	handler Handler
	token   uint64
	logger  *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger}
}

// Subscribe installs h. The returned cancel only clears the slot if h still occupies it.
func (n *Notifier) Subscribe(h Handler) (cancel func()) {
	n.mu.Lock()
	n.token++
	token := n.token
	n.handler = h
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.token == token {
			n.handler = nil
		}
	}
}

func (n *Notifier) Notify(d *remote.Discount) {
	n.mu.Lock()
	h := n.handler
	n.mu.Unlock()

	if h == nil {
		return
	}

	var value *remote.Discount
	if d != nil {
		cp := *d
		value = &cp
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("discount subscriber panicked", zap.Any("panic", r))
		}
	}()
	h(value)
}
