// internal/service/negotiation/application/sweeper.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/metrics"
	"bidhub/internal/service/negotiation/domain"
)

// Lease 让多副本部署时同一时刻只有一个实例执行后台扫描。
// 拿不到租约时直接跳过本轮，不会阻塞。
type Lease interface {
	TryAcquire() (bool, error)
}

// ExpirationSweeper 定期把超过有效期的 pending 出价写为 Expired。
// 扫描和写入之间不持有任何锁；写入前重新读取并校验，写入本身走版本号 CAS，
// 与并发的成交请求竞争时谁先提交谁赢。
type ExpirationSweeper struct {
	repo     domain.BidRepository
	events   *EventDispatcher
	lease    Lease
	interval time.Duration
	batch    int
	tracer   trace.Tracer
	metrics  *metrics.Negotiation
	now      func() time.Time
}

func NewExpirationSweeper(repo domain.BidRepository, events *EventDispatcher, lease Lease, interval time.Duration, batch int, tracer trace.Tracer, m *metrics.Negotiation) *ExpirationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &ExpirationSweeper{
		repo:     repo,
		events:   events,
		lease:    lease,
		interval: interval,
		batch:    batch,
		tracer:   tracer,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *ExpirationSweeper) WithClock(now func() time.Time) *ExpirationSweeper {
	s.now = now
	return s
}

// Run 按固定间隔扫描，直到 ctx 取消
func (s *ExpirationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Ctx(ctx).Error().Err(err).Msg("Expiration sweep failed")
			}
		}
	}
}

// SweepOnce 执行一轮扫描，返回本轮实际写入 Expired 的数量
func (s *ExpirationSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lease != nil {
		ok, err := s.lease.TryAcquire()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}

	ctx, span := s.tracer.Start(ctx, "sweeper.SweepOnce")
	defer span.End()

	candidates, err := s.repo.ListOverdue(ctx, s.now(), s.batch)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	expired := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		// 扫描结果可能已经过时：写入前重新读取
		bid, err := s.repo.FindByID(ctx, c.ID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("bid", c.ID).Msg("Sweeper failed to reload bid")
			continue
		}
		now := s.now()
		if !bid.IsOverdue(now) {
			continue
		}
		written, err := domain.ExpireOverdue(ctx, s.repo, bid, now)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("bid", bid.ID).Msg("Sweeper failed to expire bid")
			continue
		}
		if !written {
			// 并发写入抢先，下一轮再看
			continue
		}
		expired++
		s.metrics.Transition("expired")
		s.events.Publish(ctx, domain.EventBidExpired, bid, "")
	}

	s.metrics.ExpiredBids(expired)
	span.SetAttributes(attribute.Int("candidates", len(candidates)), attribute.Int("expired", expired))
	if expired > 0 {
		logger.Ctx(ctx).Info().Int("expired", expired).Msg("Expired overdue bids")
	}
	return expired, nil
}
