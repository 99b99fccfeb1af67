package service

import (
	"context"
	"errors"
	"fmt"

	"CardSync/internal/interfaces"
	"CardSync/internal/metrics"
	"CardSync/internal/model"
	"CardSync/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PricingSyncService 价格源 game → set → card 同步，生成本地待匹配的行
type PricingSyncService struct {
	pricing   interfaces.PricingSource
	repo      repository.PricingRepository
	jobs      repository.JobRepository
	persister *Persister
	logger    *logrus.Logger
}

func NewPricingSyncService(
	pricing interfaces.PricingSource,
	repo repository.PricingRepository,
	jobs repository.JobRepository,
	persister *Persister,
	logger *logrus.Logger,
) *PricingSyncService {
	return &PricingSyncService{
		pricing:   pricing,
		repo:      repo,
		jobs:      jobs,
		persister: persister,
		logger:    logger,
	}
}

func (s *PricingSyncService) SyncGames(ctx context.Context) (*EntitySyncResult, error) {
	games, stats, err := s.pricing.FetchGames(ctx)
	if err != nil {
		return nil, s.fail(ctx, "sync_games", err)
	}
	n, err := UpsertDeduped(ctx, s.persister, games,
		func(g *model.Game) string { return g.PricingID }, s.repo.UpsertGames)
	return s.finish(ctx, "sync_games", "game", stats, n, err)
}

func (s *PricingSyncService) SyncSets(ctx context.Context, gameID uint64) (*EntitySyncResult, error) {
	game, err := s.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, notFound(err, "game", gameID)
	}
	sets, stats, err := s.pricing.FetchSets(ctx, game.PricingID)
	if err != nil {
		return nil, s.fail(ctx, "sync_sets", err)
	}
	for _, set := range sets {
		set.GameID = game.ID
	}
	n, err := UpsertDeduped(ctx, s.persister, sets,
		func(st *model.Set) string { return st.PricingID }, s.repo.UpsertSets)
	return s.finish(ctx, "sync_sets", "set", stats, n, err)
}

func (s *PricingSyncService) SyncCards(ctx context.Context, setID uint64) (*EntitySyncResult, error) {
	set, err := s.repo.GetSet(ctx, setID)
	if err != nil {
		return nil, notFound(err, "set", setID)
	}
	cards, stats, err := s.pricing.FetchCards(ctx, set.PricingID)
	if err != nil {
		return nil, s.fail(ctx, "sync_cards", err)
	}
	for _, c := range cards {
		c.SetID = set.ID
	}
	n, err := UpsertDeduped(ctx, s.persister, cards,
		func(c *model.Card) string { return c.PricingID }, s.repo.UpsertCards)
	return s.finish(ctx, "sync_cards", "card", stats, n, err)
}

func (s *PricingSyncService) fail(ctx context.Context, operation string, err error) error {
	appendSyncLog(ctx, s.jobs, s.logger, uuid.NewString(), operation, model.JobFailed, err.Error(), nil)
	return err
}

func (s *PricingSyncService) finish(ctx context.Context, operation, entity string, stats interfaces.FetchStats, upserted int, err error) (*EntitySyncResult, error) {
	metrics.RowsDropped.WithLabelValues(entity).Add(float64(stats.Skipped))
	metrics.RecordsUpserted.WithLabelValues(entity).Add(float64(upserted))

	res := &EntitySyncResult{
		Success:  err == nil,
		Fetched:  stats.Fetched,
		Upserted: upserted,
		Skipped:  stats.Skipped,
		Source:   stats.Source,
		Throttle: s.pricing.Throttle().Stats(),
	}
	opID := uuid.NewString()
	if err != nil {
		appendSyncLog(ctx, s.jobs, s.logger, opID, operation, model.JobPartial, err.Error(), res)
		return nil, fmt.Errorf("%s 入库失败: %w", entity, err)
	}
	appendSyncLog(ctx, s.jobs, s.logger, opID, operation, model.JobCompleted, "", res)
	s.logger.WithFields(logrus.Fields{
		"operation": operation,
		"fetched":   res.Fetched,
		"upserted":  res.Upserted,
		"skipped":   res.Skipped,
	}).Info("价格源同步完成")
	return res, nil
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
	}
	return fmt.Errorf("查询 %s %v 失败: %w", entity, id, err)
}
