package service

import (
	"sync"
	"time"

	"fleet-telemetry/internal/models"
)

// kindBackoff 每个实体类型的失败退避状态
// 失败后等待时间从 base 开始翻倍，最大 max；成功后重置。
type kindBackoff struct {
	mu    sync.Mutex
	base  time.Duration
	max   time.Duration
	state map[models.EntityKind]backoffState
}

type backoffState struct {
	failures int
	next     time.Time
}

func newKindBackoff(base, max time.Duration) *kindBackoff {
	if max < base {
		max = base
	}
	return &kindBackoff{base: base, max: max, state: map[models.EntityKind]backoffState{}}
}

// ready 当前是否可以尝试该实体类型
func (b *kindBackoff) ready(kind models.EntityKind, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.state[kind].next)
}

// failure 记录一次失败，返回下次尝试前的等待时间
func (b *kindBackoff) failure(kind models.EntityKind, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state[kind]
	st.failures++
	wait := b.base
	for i := 1; i < st.failures && wait < b.max; i++ {
		wait *= 2
	}
	if wait > b.max {
		wait = b.max
	}
	st.next = now.Add(wait)
	b.state[kind] = st
	return wait
}

func (b *kindBackoff) success(kind models.EntityKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, kind)
}
