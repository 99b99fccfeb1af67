package gateway

import "sync"

// AIMD 加性增/乘性减的并发许可控制器。
// 只做建议值：由 worker 池读取决定开多少 worker，不参与请求准入。
type AIMD struct {
	mu        sync.Mutex
	min       int
	max       int
	current   int
	successes int
	step      int // 连续成功多少次 +1
	onChange  func(int)
}

func NewAIMD(min, max, initial, step int) *AIMD {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if step < 1 {
		step = 20
	}
	return &AIMD{
		min:     min,
		max:     max,
		current: clamp(initial, min, max),
		step:    step,
	}
}

// OnSuccess 成功计数 +1；满 step 次许可 +1 并清零计数
func (a *AIMD) OnSuccess() int {
	a.mu.Lock()
	a.successes++
	changed := false
	if a.successes >= a.step {
		a.successes = 0
		if a.current < a.max {
			a.current++
			changed = true
		}
	}
	cur := a.current
	cb := a.onChange
	a.mu.Unlock()

	if changed && cb != nil {
		cb(cur)
	}
	return cur
}

// OnThrottle 收到 429/5xx：许可减半（向下取整，不低于 min），成功计数清零
func (a *AIMD) OnThrottle() int {
	a.mu.Lock()
	prev := a.current
	a.current = clamp(a.current/2, a.min, a.max)
	a.successes = 0
	cur := a.current
	cb := a.onChange
	a.mu.Unlock()

	if cur != prev && cb != nil {
		cb(cur)
	}
	return cur
}

func (a *AIMD) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AIMD) Successes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successes
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
