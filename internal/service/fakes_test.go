package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"CardSync/internal/config"
	"CardSync/internal/gateway"
	"CardSync/internal/interfaces"
	"CardSync/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		RPS:              1000,
		Burst:            100,
		MinConcurrency:   1,
		MaxConcurrency:   4,
		InitConcurrency:  2,
		IncreaseEvery:    20,
		MaxAttempts:      2,
		BaseDelay:        time.Millisecond,
		MaxDelay:         2 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		BreakerThreshold: 50,
		BreakerOpenFor:   time.Minute,
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		RescaleInterval:  10 * time.Millisecond,
		ChunkSize:        2,
		ChunkMaxAttempts: 3,
		DefaultPageSize:  50,
		MaxPageSize:      100,
	}
}

// fakeCatalogSource 按 group 返回预设的商品；block 非空时 FetchProducts 等待它关闭
type fakeCatalogSource struct {
	throttle *gateway.Throttle
	mu       sync.Mutex
	products map[int64][]*model.CatalogProduct
	fail     map[int64]error
	calls    []int64
	block    chan struct{}
	started  chan int64
}

func newFakeCatalogSource() *fakeCatalogSource {
	return &fakeCatalogSource{
		throttle: gateway.NewThrottle(config.UpstreamCatalog, testGatewayConfig(), quietLogger()),
		products: make(map[int64][]*model.CatalogProduct),
		fail:     make(map[int64]error),
	}
}

func (f *fakeCatalogSource) Name() string                { return config.UpstreamCatalog }
func (f *fakeCatalogSource) Throttle() *gateway.Throttle { return f.throttle }

func (f *fakeCatalogSource) FetchCategories(ctx context.Context) ([]*model.CatalogCategory, interfaces.FetchStats, error) {
	return []*model.CatalogCategory{
		{CategoryID: 3, Name: "Pokemon"},
		{CategoryID: 1, Name: "Magic"},
		{CategoryID: 3, Name: "Pokemon TCG"},
	}, interfaces.FetchStats{Fetched: 4, Skipped: 1, Source: "categories"}, nil
}

func (f *fakeCatalogSource) FetchGroups(ctx context.Context, categoryID int64) ([]*model.CatalogGroup, interfaces.FetchStats, error) {
	return []*model.CatalogGroup{
		{GroupID: 1938, CategoryID: categoryID, Name: "Scarlet & Violet 151"},
	}, interfaces.FetchStats{Fetched: 1, Source: "{category}/groups"}, nil
}

func (f *fakeCatalogSource) FetchProducts(ctx context.Context, categoryID, groupID int64) ([]*model.CatalogProduct, interfaces.FetchStats, error) {
	f.mu.Lock()
	f.calls = append(f.calls, groupID)
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- groupID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, interfaces.FetchStats{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[groupID]; err != nil {
		return nil, interfaces.FetchStats{}, err
	}
	ps := f.products[groupID]
	for _, p := range ps {
		p.CategoryID = categoryID
	}
	return ps, interfaces.FetchStats{Fetched: len(ps), Source: "fake"}, nil
}

type fakeCatalogRepo struct {
	mu         sync.Mutex
	categories map[int64]*model.CatalogCategory
	groups     map[int64]*model.CatalogGroup
	products   map[int64]*model.CatalogProduct
	writes     int
}

func newFakeCatalogRepo() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		categories: make(map[int64]*model.CatalogCategory),
		groups:     make(map[int64]*model.CatalogGroup),
		products:   make(map[int64]*model.CatalogProduct),
	}
}

func (r *fakeCatalogRepo) UpsertCategories(ctx context.Context, categories []*model.CatalogCategory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	for _, c := range categories {
		r.categories[c.CategoryID] = c
	}
	return nil
}

func (r *fakeCatalogRepo) UpsertGroups(ctx context.Context, groups []*model.CatalogGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	for _, g := range groups {
		r.groups[g.GroupID] = g
	}
	return nil
}

func (r *fakeCatalogRepo) UpsertProducts(ctx context.Context, products []*model.CatalogProduct) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	for _, p := range products {
		r.products[p.ProductID] = p
	}
	return nil
}

func (r *fakeCatalogRepo) ListCategories(ctx context.Context) ([]*model.CatalogCategory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.CatalogCategory, 0, len(r.categories))
	for _, c := range r.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out, nil
}

func (r *fakeCatalogRepo) ListGroupIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	groups, _ := r.ListGroups(ctx, categoryID)
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.GroupID)
	}
	return ids, nil
}

func (r *fakeCatalogRepo) ListGroups(ctx context.Context, categoryID int64) ([]*model.CatalogGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.CatalogGroup, 0, len(r.groups))
	for _, g := range r.groups {
		if categoryID == 0 || g.CategoryID == categoryID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (r *fakeCatalogRepo) GetGroup(ctx context.Context, groupID int64) (*model.CatalogGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return g, nil
}

func (r *fakeCatalogRepo) ListProductsByGroup(ctx context.Context, groupID int64) ([]*model.CatalogProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CatalogProduct
	for _, p := range r.products {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.SyncJob
	logs []*model.SyncLog
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.SyncJob)}
}

func (r *fakeJobRepo) CreateJob(ctx context.Context, job *model.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) MarkGroup(ctx context.Context, jobID string, groupID int64, ok bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, found := r.jobs[jobID]
	if !found || j.FinishedAt != nil {
		return nil
	}
	if ok {
		j.SucceededGroupIDs = append(j.SucceededGroupIDs, groupID)
	} else {
		j.FailedGroupIDs = append(j.FailedGroupIDs, groupID)
	}
	return nil
}

func (r *fakeJobRepo) FinishJob(ctx context.Context, jobID, status string, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, found := r.jobs[jobID]
	if !found {
		return errors.New("job not found")
	}
	if j.FinishedAt != nil {
		return nil
	}
	now := time.Now()
	j.Status, j.Error, j.FinishedAt = status, errMsg, &now
	return nil
}

func (r *fakeJobRepo) GetJob(ctx context.Context, jobID string) (*model.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *j
	cp.SucceededGroupIDs = append([]int64(nil), j.SucceededGroupIDs...)
	cp.FailedGroupIDs = append([]int64(nil), j.FailedGroupIDs...)
	return &cp, nil
}

func (r *fakeJobRepo) AppendLog(ctx context.Context, entry *model.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

func (r *fakeJobRepo) operations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Operation+":"+l.Status)
	}
	return out
}

type fakePricingRepo struct {
	mu       sync.Mutex
	games    map[uint64]*model.Game
	sets     map[uint64]*model.Set
	cards    map[uint64]*model.Card
	links    map[uint64]int64
	reviews  []*model.SetMatchReview
	byPricID map[string]uint64
	nextID   uint64
}

func newFakePricingRepo() *fakePricingRepo {
	return &fakePricingRepo{
		games:    make(map[uint64]*model.Game),
		sets:     make(map[uint64]*model.Set),
		cards:    make(map[uint64]*model.Card),
		links:    make(map[uint64]int64),
		byPricID: make(map[string]uint64),
	}
}

func (r *fakePricingRepo) id(kind, pricingID string) uint64 {
	key := kind + ":" + pricingID
	if id, ok := r.byPricID[key]; ok {
		return id
	}
	r.nextID++
	r.byPricID[key] = r.nextID
	return r.nextID
}

func (r *fakePricingRepo) UpsertGames(ctx context.Context, games []*model.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range games {
		g.ID = r.id("game", g.PricingID)
		r.games[g.ID] = g
	}
	return nil
}

func (r *fakePricingRepo) UpsertSets(ctx context.Context, sets []*model.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sets {
		s.ID = r.id("set", s.PricingID)
		r.sets[s.ID] = s
	}
	return nil
}

func (r *fakePricingRepo) UpsertCards(ctx context.Context, cards []*model.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cards {
		c.ID = r.id("card", c.PricingID)
		r.cards[c.ID] = c
	}
	return nil
}

func (r *fakePricingRepo) GetGame(ctx context.Context, id uint64) (*model.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return g, nil
}

func (r *fakePricingRepo) GetSet(ctx context.Context, id uint64) (*model.Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (r *fakePricingRepo) listSets(gameID uint64, linked bool) []*model.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Set
	for _, s := range r.sets {
		if (gameID == 0 || s.GameID == gameID) && (s.CatalogGroupID != nil) == linked {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakePricingRepo) ListUnlinkedSets(ctx context.Context, gameID uint64) ([]*model.Set, error) {
	return r.listSets(gameID, false), nil
}

func (r *fakePricingRepo) ListLinkedSets(ctx context.Context, gameID uint64) ([]*model.Set, error) {
	return r.listSets(gameID, true), nil
}

func (r *fakePricingRepo) ListCardsBySet(ctx context.Context, setID uint64) ([]*model.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Card
	for _, c := range r.cards {
		if c.SetID == setID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakePricingRepo) ApplySetLink(ctx context.Context, setID uint64, groupID int64, confidence float64, method string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[setID]
	if !ok || s.CatalogGroupID != nil {
		return false, nil
	}
	s.CatalogGroupID, s.MatchConfidence, s.MatchMethod = &groupID, &confidence, &method
	return true, nil
}

func (r *fakePricingRepo) ApplyCardLink(ctx context.Context, cardID uint64, productID int64, confidence float64, cardMethod, linkMethod string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok {
		return false, nil
	}
	c.CatalogProductID, c.MatchConfidence, c.MatchMethod = &productID, &confidence, &cardMethod
	r.links[cardID] = productID
	return true, nil
}

func (r *fakePricingRepo) SaveSetReviews(ctx context.Context, reviews []*model.SetMatchReview) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews = append(r.reviews, reviews...)
	return nil
}
