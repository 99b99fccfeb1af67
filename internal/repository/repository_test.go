package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"CardSync/internal/model"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestCatalogRepository_UpsertProducts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db)

	mock.ExpectExec(`INSERT INTO "catalog_products" .* ON CONFLICT \("product_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.UpsertProducts(context.Background(), []*model.CatalogProduct{
		{ProductID: 1, GroupID: 1938, CategoryID: 3, Name: "Pikachu"},
		{ProductID: 2, GroupID: 1938, CategoryID: 3, Name: "Mewtwo"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_UpsertEmptyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db)

	require.NoError(t, repo.UpsertProducts(context.Background(), nil))
	require.NoError(t, repo.UpsertGroups(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_ListGroupIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db)

	mock.ExpectQuery(`SELECT "group_id" FROM "catalog_groups" WHERE category_id = \$1 ORDER BY group_id ASC`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow(1938).AddRow(2001))

	ids, err := repo.ListGroupIDs(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1938, 2001}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_MarkGroupAppendsWhileRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectExec(`UPDATE "sync_jobs" SET "succeeded_group_ids"=array_append\(succeeded_group_ids, \$1\) WHERE id = \$2 AND finished_at IS NULL`).
		WithArgs(int64(1938), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "sync_jobs" SET "failed_group_ids"=array_append\(failed_group_ids, \$1\) WHERE id = \$2 AND finished_at IS NULL`).
		WithArgs(int64(2001), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkGroup(context.Background(), "job-1", 1938, true))
	require.NoError(t, repo.MarkGroup(context.Background(), "job-1", 2001, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_FinishJob(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectExec(`UPDATE "sync_jobs" SET .*"finished_at"=.*"status"=.* WHERE id = .* AND finished_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.FinishJob(context.Background(), "job-1", model.JobPartial, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_CreateJobInitializesArrays(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectExec(`INSERT INTO "sync_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))

	job := &model.SyncJob{ID: "job-1", Kind: model.JobKindProducts, CategoryID: 3, TotalGroups: 2, Status: model.JobRunning, StartedAt: time.Now()}
	require.NoError(t, repo.CreateJob(context.Background(), job))
	assert.NotNil(t, job.SucceededGroupIDs)
	assert.NotNil(t, job.FailedGroupIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetJob(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	started := time.Now().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{"id", "kind", "category_id", "total_groups", "succeeded_group_ids", "failed_group_ids", "status", "dry_run", "retry_of", "error", "started_at", "finished_at"}).
		AddRow("job-1", "products", 3, 3, "{1938,1939}", "{2001}", "partial", false, nil, nil, started, started)
	mock.ExpectQuery(`SELECT \* FROM "sync_jobs" WHERE id = \$1`).WillReturnRows(rows)

	job, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1938, 1939}, []int64(job.SucceededGroupIDs))
	assert.Equal(t, []int64{2001}, []int64(job.FailedGroupIDs))
	assert.True(t, job.Finished())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetJobNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "sync_jobs" WHERE id = \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetJob(context.Background(), "missing")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestPricingRepository_ApplySetLinkOnlyWhenUnlinked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)

	mock.ExpectExec(`UPDATE "sets" SET .*"catalog_group_id"=.* WHERE id = .* AND catalog_group_id IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "sets" SET .*"catalog_group_id"=.* WHERE id = .* AND catalog_group_id IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ApplySetLink(context.Background(), 7, 1938, 1.0, "group_name_exact")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ApplySetLink(context.Background(), 7, 1938, 1.0, "group_name_exact")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepository_ApplyCardLinkWritesLinkRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "cards" SET .*"catalog_product_id"=.* WHERE id = .* AND catalog_product_id IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "product_links" .* ON CONFLICT \("card_id"\) DO UPDATE SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	ok, err := repo.ApplyCardLink(context.Background(), 11, 1001, 1.0, "number", "exact_number_match")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepository_ApplyCardLinkSkipsClaimedCard(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "cards" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.ApplyCardLink(context.Background(), 11, 1001, 0.85, "name", "name_similarity")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepository_UpsertGamesRefreshesCategory(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)

	mock.ExpectQuery(`INSERT INTO "games" .* ON CONFLICT \("pricing_id"\) DO UPDATE SET "name"="excluded"."name","slug"="excluded"."slug","updated_at"="excluded"."updated_at",` +
		`"catalog_category_id"=COALESCE\(excluded\.catalog_category_id, games\.catalog_category_id\) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	category := int64(3)
	games := []*model.Game{
		{PricingID: "pokemon", Name: "Pokemon", CatalogCategoryID: &category},
		{PricingID: "lorcana", Name: "Lorcana"},
	}
	require.NoError(t, repo.UpsertGames(context.Background(), games))
	assert.Equal(t, uint64(1), games[0].ID)
	assert.Equal(t, uint64(2), games[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepository_UpsertSetsKeepsMatchColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)

	mock.ExpectQuery(`INSERT INTO "sets" .* ON CONFLICT \("pricing_id"\) DO UPDATE SET "game_id"="excluded"."game_id","name"="excluded"."name",` +
		`"code"="excluded"."code","release_date"="excluded"."release_date","updated_at"="excluded"."updated_at" RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	require.NoError(t, repo.UpsertSets(context.Background(), []*model.Set{{GameID: 1, PricingID: "pgo", Name: "Pokemon GO", Code: "PGO"}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepository_UpsertCardsKeepsMatchColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)

	mock.ExpectQuery(`INSERT INTO "cards" .* ON CONFLICT \("pricing_id"\) DO UPDATE SET "set_id"="excluded"."set_id","name"="excluded"."name",` +
		`"number"="excluded"."number","rarity"="excluded"."rarity","prices"="excluded"."prices","updated_at"="excluded"."updated_at" RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	require.NoError(t, repo.UpsertCards(context.Background(), []*model.Card{{SetID: 7, PricingID: "pgo-025", Name: "Pikachu", Number: "025/078"}}))
	require.NoError(t, repo.UpsertCards(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
