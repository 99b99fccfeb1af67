package catalog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
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
	defaultBufSize = 32 << 10
	maxJSONBody    = 64 << 20
	sniffSize      = 512
	sourceJSON     = "json"
)

func init() {
	adapter.Register(config.UpstreamCatalog, NewCatalogSource)
}

// Adapter 目录源：商品优先走 CSV（多个路径变体依次尝试），全部失败再走 JSON
type Adapter struct {
	gw      *gateway.Gateway
	cfg     *config.UpstreamConfig
	logger  *logrus.Logger
	bufSize int
}

func NewCatalogSource(gw *gateway.Gateway, cfg *config.UpstreamConfig, logger *logrus.Logger) interfaces.Source {
	return New(gw, cfg, logger)
}

func New(gw *gateway.Gateway, cfg *config.UpstreamConfig, logger *logrus.Logger) *Adapter {
	return &Adapter{gw: gw, cfg: cfg, logger: logger, bufSize: defaultBufSize}
}

func (a *Adapter) Name() string { return config.UpstreamCatalog }

func (a *Adapter) Throttle() *gateway.Throttle { return a.gw.Throttle() }

func (a *Adapter) FetchCategories(ctx context.Context) ([]*model.CatalogCategory, interfaces.FetchStats, error) {
	path := a.cfg.Path("categories", "categories")
	records, stats, err := a.fetchRecords(ctx, a.url(path, 0, 0), parser.CategorySchema, "categories")
	if err != nil {
		return nil, stats, fmt.Errorf("拉取类目失败: %w", err)
	}
	stats.Source = path

	out := make([]*model.CatalogCategory, 0, len(records))
	for _, rec := range records {
		id, ok := parser.ParseInt64(rec.ID)
		if !ok || id <= 0 {
			stats.Skipped++
			continue
		}
		out = append(out, &model.CatalogCategory{
			CategoryID:  id,
			Name:        rec.Name,
			DisplayName: rec.Field("displayname"),
			ModifiedOn:  parser.ParseDate(rec.Field("modifiedon")),
		})
	}
	return out, stats, nil
}

func (a *Adapter) FetchGroups(ctx context.Context, categoryID int64) ([]*model.CatalogGroup, interfaces.FetchStats, error) {
	path := a.cfg.Path("groups", "{category}/groups")
	records, stats, err := a.fetchRecords(ctx, a.url(path, categoryID, 0), parser.GroupSchema, "groups")
	if err != nil {
		return nil, stats, fmt.Errorf("拉取类目 %d 的 group 失败: %w", categoryID, err)
	}
	stats.Source = path

	out := make([]*model.CatalogGroup, 0, len(records))
	for _, rec := range records {
		id, ok := parser.ParseInt64(rec.ID)
		if !ok || id <= 0 {
			stats.Skipped++
			continue
		}
		g := &model.CatalogGroup{
			GroupID:        id,
			CategoryID:     categoryID,
			Name:           rec.Name,
			Abbreviation:   rec.Field("abbreviation"),
			ReleaseDate:    parser.ParseDate(rec.Field("releasedate")),
			IsSupplemental: parser.ParseBool(rec.Field("supplemental")),
			IsSealed:       parser.ParseBool(rec.Field("sealed")),
		}
		if cid, ok := parser.ParseInt64(rec.Field("categoryid")); ok && cid > 0 {
			g.CategoryID = cid
		}
		out = append(out, g)
	}
	return out, stats, nil
}

// FetchProducts 依次尝试各 CSV 变体：返回 HTML、缺列或请求失败则换下一个；
// 熔断打开或调用方取消时立即返回。CSV 都不可用时回退到 JSON。
func (a *Adapter) FetchProducts(ctx context.Context, categoryID, groupID int64) ([]*model.CatalogProduct, interfaces.FetchStats, error) {
	var lastErr error
	for _, tmpl := range a.cfg.CSVPathVariants {
		products, stats, err := a.fetchProductsCSV(ctx, a.url(tmpl, categoryID, groupID), categoryID, groupID)
		if err == nil {
			stats.Source = tmpl
			return products, stats, nil
		}
		if errors.Is(err, gateway.ErrCircuitOpen) || ctx.Err() != nil {
			return nil, stats, err
		}
		a.logger.WithError(err).WithFields(logrus.Fields{
			"group_id": groupID,
			"variant":  tmpl,
		}).Debug("CSV 变体不可用，尝试下一个")
		lastErr = err
	}

	if a.cfg.JSONPath != "" {
		products, stats, err := a.fetchProductsJSON(ctx, a.url(a.cfg.JSONPath, categoryID, groupID), categoryID, groupID)
		if err == nil {
			stats.Source = sourceJSON
			return products, stats, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("未配置商品路径")
	}
	return nil, interfaces.FetchStats{}, fmt.Errorf("group %d 商品拉取失败（CSV 与 JSON 均不可用）: %w", groupID, lastErr)
}

func (a *Adapter) fetchProductsCSV(ctx context.Context, u string, categoryID, groupID int64) ([]*model.CatalogProduct, interfaces.FetchStats, error) {
	var stats interfaces.FetchStats
	res, err := a.gw.Fetch(ctx, u, gateway.FetchOptions{Accept: "text/csv"})
	if err != nil {
		return nil, stats, err
	}
	body := res.Response.Body
	defer body.Close()

	br := bufio.NewReaderSize(body, sniffSize)
	// 不足 sniffSize 字节时 Peek 返回已有内容
	prefix, _ := br.Peek(sniffSize)
	if parser.LooksLikeHTML(prefix) {
		return nil, stats, &parser.PayloadError{Diagnostic: parser.DiagHTMLBody, Detail: u}
	}

	var products []*model.CatalogProduct
	rs, err := parser.StreamRecords(br, parser.ProductSchema, a.bufSize, func(rec parser.Record) error {
		if p, ok := toProduct(rec, categoryID, groupID); ok {
			products = append(products, p)
		} else {
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("解析 %s 失败: %w", u, err)
	}
	stats.Fetched = rs.Rows + rs.Malformed
	stats.Skipped += rs.Dropped + rs.Malformed
	return products, stats, nil
}

func (a *Adapter) fetchProductsJSON(ctx context.Context, u string, categoryID, groupID int64) ([]*model.CatalogProduct, interfaces.FetchStats, error) {
	records, stats, err := a.fetchRecords(ctx, u, parser.ProductSchema, "products")
	if err != nil {
		return nil, stats, err
	}
	products := make([]*model.CatalogProduct, 0, len(records))
	for _, rec := range records {
		if p, ok := toProduct(rec, categoryID, groupID); ok {
			products = append(products, p)
		} else {
			stats.Skipped++
		}
	}
	return products, stats, nil
}

// fetchRecords 拉取一个列表端点；响应体是 CSV 时按 CSV 解析，否则按 JSON 信封解析
func (a *Adapter) fetchRecords(ctx context.Context, u string, schema parser.Schema, named string) ([]parser.Record, interfaces.FetchStats, error) {
	var stats interfaces.FetchStats
	res, err := a.gw.Fetch(ctx, u, gateway.FetchOptions{Accept: "application/json, text/csv;q=0.9"})
	if err != nil {
		return nil, stats, err
	}
	defer res.Response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Response.Body, maxJSONBody))
	if err != nil {
		return nil, stats, fmt.Errorf("读取响应体失败: %w", err)
	}

	if parser.Sniff(raw) == parser.DiagCSVBody {
		var records []parser.Record
		rs, err := parser.StreamRecords(bytes.NewReader(raw), schema, a.bufSize, func(rec parser.Record) error {
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return nil, stats, err
		}
		stats.Fetched = rs.Rows + rs.Malformed
		stats.Skipped = rs.Dropped + rs.Malformed
		return records, stats, nil
	}

	objs, err := parser.DecodeEnvelope(raw, named)
	if err != nil {
		a.logger.WithError(err).WithField("url", u).Warn("响应体无法识别")
		return nil, stats, err
	}
	records, dropped := parser.BindObjects(schema, objs)
	stats.Fetched = len(objs)
	stats.Skipped = dropped
	return records, stats, nil
}

// url 替换 {category}/{group} 占位符；模板本身是完整 URL 时不拼 base_url
func (a *Adapter) url(tmpl string, categoryID, groupID int64) string {
	p := strings.NewReplacer(
		"{category}", strconv.FormatInt(categoryID, 10),
		"{group}", strconv.FormatInt(groupID, 10),
	).Replace(tmpl)
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(a.gw.BaseURL(), "/") + "/" + strings.TrimLeft(p, "/")
}

// 已单独建列的价格/子类型之外，其余未识别列都放进 extended
var extendedRoles = []string{"lowprice", "midprice", "highprice", "subtype"}

func toProduct(rec parser.Record, categoryID, groupID int64) (*model.CatalogProduct, bool) {
	id, ok := parser.ParseInt64(rec.ID)
	if !ok || id <= 0 {
		return nil, false
	}
	p := &model.CatalogProduct{
		ProductID:   id,
		GroupID:     groupID,
		CategoryID:  categoryID,
		Name:        rec.Name,
		CleanName:   rec.Field("cleanname"),
		Number:      rec.Field("number"),
		Rarity:      rec.Field("rarity"),
		ProductType: rec.Field("type"),
		Slug:        rec.Field("slug"),
		ImageURL:    rec.Field("imageurl"),
		MarketPrice: parser.ParseFloat(rec.Field("marketprice")),
	}

	ext := make(map[string]string, len(rec.Extra)+len(extendedRoles))
	for k, v := range rec.Extra {
		ext[k] = v
	}
	for _, role := range extendedRoles {
		if v := rec.Field(role); v != "" {
			ext[role] = v
		}
	}
	if len(ext) > 0 {
		if raw, err := json.Marshal(ext); err == nil {
			p.Extended = datatypes.JSON(raw)
		}
	}
	return p, true
}
