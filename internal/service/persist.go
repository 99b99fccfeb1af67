package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CardSync/internal/config"

	"github.com/sirupsen/logrus"
)

// Persister 分批写库的参数。批次重试与上游网关的重试互不相关
type Persister struct {
	chunkSize   int
	maxAttempts int
	baseDelay   time.Duration
	logger      *logrus.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewPersister(cfg config.SyncConfig, logger *logrus.Logger) *Persister {
	p := &Persister{
		chunkSize:   cfg.ChunkSize,
		maxAttempts: cfg.ChunkMaxAttempts,
		baseDelay:   cfg.ChunkBaseDelay,
		logger:      logger,
		sleep:       sleepCtx,
	}
	if p.chunkSize <= 0 {
		p.chunkSize = 500
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	return p
}

// Dedupe 按主键去重：同一主键保留最后一次出现的值，位置取第一次出现处
func Dedupe[T any, K comparable](records []T, key func(T) K) []T {
	idx := make(map[K]int, len(records))
	out := make([]T, 0, len(records))
	for _, r := range records {
		k := key(r)
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

// UpsertDeduped 去重后按 chunkSize 分批调用 write。每批失败按指数退避重试，
// 仍失败的批次记入返回的错误（errors.Join），其余批次照常写入。返回成功写入的条数。
func UpsertDeduped[T any, K comparable](ctx context.Context, p *Persister, records []T, key func(T) K, write func(ctx context.Context, chunk []T) error) (int, error) {
	rows := Dedupe(records, key)

	var (
		written int
		errs    []error
	)
	for start := 0; start < len(rows); start += p.chunkSize {
		chunk := rows[start:min(start+p.chunkSize, len(rows))]

		var err error
		for attempt := 1; attempt <= p.maxAttempts; attempt++ {
			if err = write(ctx, chunk); err == nil {
				break
			}
			if attempt == p.maxAttempts {
				break
			}
			delay := p.baseDelay << (attempt - 1)
			p.logger.WithError(err).WithFields(logrus.Fields{
				"offset":  start,
				"size":    len(chunk),
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("批次写入失败，退避后重试")
			if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
				err = errors.Join(err, sleepErr)
				break
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("第 %d-%d 条写入失败: %w", start+1, start+len(chunk), err))
			continue
		}
		written += len(chunk)
	}
	return written, errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
