package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"CardSync/internal/adapter"
	"CardSync/internal/config"
	"CardSync/internal/gateway"
	"CardSync/internal/interfaces"
	"CardSync/internal/model"
	"CardSync/internal/parser"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	defaultPageSize = 100
	maxPages        = 1000
	maxBody         = 32 << 20
)

func init() {
	adapter.Register(config.UpstreamPricing, NewPricingSource)
}

// 价格源 JSON 字段别名
var (
	GameSchema = parser.Schema{
		IDAliases:   []string{"id", "gameid"},
		NameAliases: []string{"name", "gamename"},
		Fields: map[string][]string{
			"slug":       {"slug"},
			"categoryid": {"tcgplayercategoryid", "categoryid"},
		},
	}

	SetSchema = parser.Schema{
		IDAliases:   []string{"id", "setid"},
		NameAliases: []string{"name", "setname"},
		Fields: map[string][]string{
			"code":        {"code", "setcode", "abbreviation"},
			"releasedate": {"releasedate", "releasedat", "publishedon"},
		},
	}

	CardSchema = parser.Schema{
		IDAliases:   []string{"id", "cardid"},
		NameAliases: []string{"name", "cardname"},
		Fields: map[string][]string{
			"number":      {"number", "cardnumber", "collectornumber"},
			"rarity":      {"rarity"},
			// 角色按名称排序绑定，priceobject 先占住 prices 列
			"priceobject": {"prices"},
			"pricevalue":  {"price", "marketprice"},
		},
	}
)

// Adapter 价格源：offset/limit 分页的 JSON 列表，按 X-API-Key 鉴权
type Adapter struct {
	gw     *gateway.Gateway
	cfg    *config.UpstreamConfig
	logger *logrus.Logger
}

func NewPricingSource(gw *gateway.Gateway, cfg *config.UpstreamConfig, logger *logrus.Logger) interfaces.Source {
	return New(gw, cfg, logger)
}

func New(gw *gateway.Gateway, cfg *config.UpstreamConfig, logger *logrus.Logger) *Adapter {
	return &Adapter{gw: gw, cfg: cfg, logger: logger}
}

func (a *Adapter) Name() string { return config.UpstreamPricing }

func (a *Adapter) Throttle() *gateway.Throttle { return a.gw.Throttle() }

func (a *Adapter) FetchGames(ctx context.Context) ([]*model.Game, interfaces.FetchStats, error) {
	path := a.cfg.Path("games", "games")
	records, stats, err := a.fetchPaged(ctx, path, nil, GameSchema, "games")
	if err != nil {
		return nil, stats, fmt.Errorf("拉取游戏列表失败: %w", err)
	}
	out := make([]*model.Game, 0, len(records))
	for _, rec := range records {
		g := &model.Game{PricingID: rec.ID, Name: rec.Name, Slug: rec.Field("slug")}
		if cid, ok := parser.ParseInt64(rec.Field("categoryid")); ok && cid > 0 {
			g.CatalogCategoryID = &cid
		}
		out = append(out, g)
	}
	return out, stats, nil
}

func (a *Adapter) FetchSets(ctx context.Context, gamePricingID string) ([]*model.Set, interfaces.FetchStats, error) {
	path := a.cfg.Path("sets", "games/{game}/sets")
	records, stats, err := a.fetchPaged(ctx, path, map[string]string{"{game}": gamePricingID}, SetSchema, "sets")
	if err != nil {
		return nil, stats, fmt.Errorf("拉取游戏 %s 的 set 失败: %w", gamePricingID, err)
	}
	out := make([]*model.Set, 0, len(records))
	for _, rec := range records {
		out = append(out, &model.Set{
			PricingID:   rec.ID,
			Name:        rec.Name,
			Code:        rec.Field("code"),
			ReleaseDate: parser.ParseDate(rec.Field("releasedate")),
		})
	}
	return out, stats, nil
}

func (a *Adapter) FetchCards(ctx context.Context, setPricingID string) ([]*model.Card, interfaces.FetchStats, error) {
	path := a.cfg.Path("cards", "sets/{set}/cards")
	records, stats, err := a.fetchPaged(ctx, path, map[string]string{"{set}": setPricingID}, CardSchema, "cards")
	if err != nil {
		return nil, stats, fmt.Errorf("拉取 set %s 的卡牌失败: %w", setPricingID, err)
	}
	out := make([]*model.Card, 0, len(records))
	for _, rec := range records {
		out = append(out, &model.Card{
			PricingID: rec.ID,
			Name:      rec.Name,
			Number:    rec.Field("number"),
			Rarity:    rec.Field("rarity"),
			Prices:    pricesJSON(rec.Field("priceobject"), rec.Field("pricevalue")),
		})
	}
	return out, stats, nil
}

// fetchPaged 逐页拉取直到某页不足 limit 条
func (a *Adapter) fetchPaged(ctx context.Context, tmpl string, vars map[string]string, schema parser.Schema, named string) ([]parser.Record, interfaces.FetchStats, error) {
	stats := interfaces.FetchStats{Source: tmpl}
	limit := a.cfg.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	var records []parser.Record
	offset := 0
	for page := 0; page < maxPages; page++ {
		u, err := a.pageURL(tmpl, vars, offset, limit)
		if err != nil {
			return nil, stats, err
		}
		objs, err := a.fetchPage(ctx, u, named)
		if err != nil {
			return nil, stats, err
		}
		recs, dropped := parser.BindObjects(schema, objs)
		records = append(records, recs...)
		stats.Fetched += len(objs)
		stats.Skipped += dropped

		if len(objs) < limit {
			return records, stats, nil
		}
		offset += len(objs)
	}
	a.logger.WithFields(logrus.Fields{
		"path":  tmpl,
		"pages": maxPages,
	}).Warn("分页达到上限，结果可能不完整")
	return records, stats, nil
}

func (a *Adapter) fetchPage(ctx context.Context, u, named string) ([]map[string]any, error) {
	opts := gateway.FetchOptions{Accept: "application/json"}
	if a.cfg.AuthKey != "" {
		opts.Header = http.Header{"X-Api-Key": []string{a.cfg.AuthKey}}
	}
	res, err := a.gw.Fetch(ctx, u, opts)
	if err != nil {
		return nil, err
	}
	defer res.Response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Response.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	objs, err := parser.DecodeEnvelope(raw, named)
	if err != nil {
		a.logger.WithError(err).WithField("url", u).Warn("价格源响应体无法识别")
		return nil, err
	}
	return objs, nil
}

func (a *Adapter) pageURL(tmpl string, vars map[string]string, offset, limit int) (string, error) {
	p := tmpl
	for k, v := range vars {
		p = strings.ReplaceAll(p, k, url.PathEscape(v))
	}
	raw := p
	if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
		raw = strings.TrimRight(a.gw.BaseURL(), "/") + "/" + strings.TrimLeft(p, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("无效的价格源地址 %s: %w", raw, err)
	}
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// pricesJSON 嵌套价格对象原样保存；只有单个价格时记为 {"market": n}
func pricesJSON(nested, single string) datatypes.JSON {
	if v := strings.TrimSpace(nested); v != "" && (v[0] == '{' || v[0] == '[') && json.Valid([]byte(v)) {
		return datatypes.JSON(v)
	}
	if f := parser.ParseFloat(single); f != nil {
		raw, err := json.Marshal(map[string]float64{"market": *f})
		if err == nil {
			return datatypes.JSON(raw)
		}
	}
	return nil
}
