package matching

import "time"

// Budget 软执行预算：只在两个匹配单元之间检查，超时后干净地停下并记录进度
type Budget struct {
	deadline time.Time
	now      func() time.Time
}

// NewBudget d<=0 表示不限时
func NewBudget(d time.Duration) *Budget {
	return NewBudgetWithClock(d, time.Now)
}

func NewBudgetWithClock(d time.Duration, now func() time.Time) *Budget {
	if d <= 0 {
		return nil
	}
	return &Budget{deadline: now().Add(d), now: now}
}

// Exceeded nil 预算永不超时
func (b *Budget) Exceeded() bool {
	if b == nil {
		return false
	}
	return !b.now().Before(b.deadline)
}
