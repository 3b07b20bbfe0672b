package events

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Multi は複数の Publisher へ順に配信します。一部が失敗しても残りへは配信します。
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop はブローカー未設定時の配信先です。
type Noop struct{}

func (Noop) Publish(_ context.Context, env Envelope) error {
	log.WithField("type", env.Meta.Type).Debug("event dropped (no broker configured)")
	return nil
}

// Ring は直近のイベントを保持します。ダッシュボードの「最近の動き」に使います。
type Ring struct {
	mu   sync.Mutex
	size int
	buf  []Envelope
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{size: size}
}

func (r *Ring) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, env)
	if len(r.buf) > r.size {
		r.buf = r.buf[len(r.buf)-r.size:]
	}
	return nil
}

// Recent は新しい順に最大 n 件を返します。
func (r *Ring) Recent(n int) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]Envelope, 0, n)
	for i := len(r.buf) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.buf[i])
	}
	return out
}

// Types は保持しているイベント種別を古い順に返します。
func (r *Ring) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.buf))
	for i, e := range r.buf {
		out[i] = e.Meta.Type
	}
	return out
}
