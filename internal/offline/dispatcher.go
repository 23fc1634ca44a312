package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/artifact"
	"github.com/currents-hub/currents/internal/body"
	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/logging"
	"github.com/currents-hub/currents/internal/metrics"
	"github.com/currents-hub/currents/internal/partition"
)

// 分发结果，用于日志与指标。
const (
	outcomeCacheHit = "cache_hit"
	outcomeNetwork  = "network"
	outcomeFallback = "fallback"
	outcomeOffline  = "offline"
	outcomeBypass   = "bypass"
)

// Dispatcher 是某个部署版本的请求分发器。Handle 只读取分区，
// 所有写入以 Effect 形式返回。
type Dispatcher struct {
	version         string
	store           partition.Store
	fetcher         Fetcher
	logger          *logrus.Logger
	classifier      Classifier
	origin          *url.URL
	shellPath       string
	staticPartition string
	tilePartition   string
	dataPrefix      string
	trusted         map[string]struct{}

	// retireMu 保证 retire 返回后不会再有写入落到本版本的分区。
	retireMu sync.RWMutex
	retired  bool
}

// NewDispatcher 根据 [Client] 配置构建分发器。
func NewDispatcher(cfg config.ClientConfig, store partition.Store, fetcher Fetcher, logger *logrus.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("partition store is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid client origin %q", cfg.Origin)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	trusted := map[string]struct{}{strings.ToLower(origin.Host): {}}
	for _, host := range cfg.TrustedHosts {
		if host != "" {
			trusted[strings.ToLower(host)] = struct{}{}
		}
	}
	return &Dispatcher{
		version: cfg.Version,
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		classifier: Classifier{
			TileSegment:         cfg.TileSegment,
			PassThroughPrefixes: append([]string(nil), cfg.PassThroughPrefixes...),
		},
		origin:          origin,
		shellPath:       cfg.ShellPath,
		staticPartition: cfg.StaticPartition(),
		tilePartition:   cfg.TilePartition(),
		dataPrefix:      cfg.CurrentDataPrefix,
		trusted:         trusted,
	}, nil
}

// Version 返回分发器所属的部署版本。
func (d *Dispatcher) Version() string {
	return d.version
}

// Resolve 将相对路径解析到源站下，绝对 URL 原样返回。
func (d *Dispatcher) Resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return d.origin.ResolveReference(parsed), nil
}

// Handle 为一次请求产出响应与待执行的缓存写入。
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (*Response, []Effect) {
	class := d.classifier.Classify(req)
	var (
		resp    *Response
		effects []Effect
		outcome string
	)
	switch class {
	case ClassNavigation:
		resp, effects, outcome = d.navigate(ctx, req)
	case ClassTile:
		resp, effects, outcome = d.tile(ctx, req)
	case ClassPassThrough:
		resp, outcome = d.passThrough(ctx, req)
	default:
		resp, effects, outcome = d.static(ctx, req)
	}

	metrics.Dispatch(string(class), outcome)
	d.logger.WithFields(logging.DispatchFields(d.version, string(class), req.URL.String(), outcome)).
		WithField("status", resp.Status).
		Debug("offline_dispatch")
	return resp, effects
}

// navigate 网络优先；失败时依次回退到缓存的导航响应、缓存的 app shell 与 503 文本。
func (d *Dispatcher) navigate(ctx context.Context, req *Request) (*Response, []Effect, string) {
	resp, err := d.fetcher.Fetch(ctx, req)
	if err == nil {
		if d.cacheableStatic(req, resp) {
			out, effects := d.branch(d.staticPartition, req, resp)
			return out, effects, outcomeNetwork
		}
		return resp, nil, outcomeNetwork
	}

	if snap := d.lookup(ctx, d.staticPartition, req.Key()); snap != nil {
		return snapshotResponse(snap), nil, outcomeFallback
	}
	if shell, resolveErr := d.Resolve(d.shellPath); resolveErr == nil {
		key := partition.RequestKey(http.MethodGet, shell.String())
		if snap := d.lookup(ctx, d.staticPartition, key); snap != nil {
			return snapshotResponse(snap), nil, outcomeFallback
		}
	}
	return textResponse(http.StatusServiceUnavailable, "offline"), nil, outcomeOffline
}

// tile 按完整 URL 缓存优先；网络失败返回 204 空响应，渲染端当作透明瓦片。
func (d *Dispatcher) tile(ctx context.Context, req *Request) (*Response, []Effect, string) {
	if cacheableMethod(req.Method) {
		if snap := d.lookup(ctx, d.tilePartition, req.Key()); snap != nil {
			return snapshotResponse(snap), nil, outcomeCacheHit
		}
	}
	resp, err := d.fetcher.Fetch(ctx, req)
	if err != nil {
		d.logger.WithError(err).WithField("url", req.URL.String()).Debug("tile_fetch_failed")
		return newResponse(http.StatusNoContent, nil, body.Empty(), SourceFallback), nil, outcomeOffline
	}
	if cacheableMethod(req.Method) && partition.IsCacheableStatus(resp.Status) {
		out, effects := d.branch(d.tilePartition, req, resp)
		return out, effects, outcomeNetwork
	}
	return resp, nil, outcomeNetwork
}

type offlinePayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// passThrough 实时数据只走网络，从不缓存。
func (d *Dispatcher) passThrough(ctx context.Context, req *Request) (*Response, string) {
	resp, err := d.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp, outcomeNetwork
	}
	payload, _ := json.Marshal(offlinePayload{
		Error:   "offline",
		Message: "network unavailable: " + err.Error(),
	})
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return newResponse(http.StatusServiceUnavailable, header, body.FromBytes(payload), SourceFallback), outcomeOffline
}

// static 缓存优先再走网络；非 GET 与不受信主机不缓存。
// current-data 下会变化的指针文件（latest.json）改为网络优先，离线时才读缓存。
func (d *Dispatcher) static(ctx context.Context, req *Request) (*Response, []Effect, string) {
	if !cacheableMethod(req.Method) {
		resp, err := d.fetcher.Fetch(ctx, req)
		if err != nil {
			return networkError(err), nil, outcomeOffline
		}
		return resp, nil, outcomeBypass
	}

	mutable := d.mutableDataPointer(req)
	if !mutable {
		if snap := d.lookup(ctx, d.staticPartition, req.Key()); snap != nil {
			return snapshotResponse(snap), nil, outcomeCacheHit
		}
	}

	resp, err := d.fetcher.Fetch(ctx, req)
	if err != nil {
		if mutable {
			if snap := d.lookup(ctx, d.staticPartition, req.Key()); snap != nil {
				return snapshotResponse(snap), nil, outcomeFallback
			}
		}
		return networkError(err), nil, outcomeOffline
	}
	if d.cacheableStatic(req, resp) {
		out, effects := d.branch(d.staticPartition, req, resp)
		return out, effects, outcomeNetwork
	}
	return resp, nil, outcomeNetwork
}

func networkError(err error) *Response {
	return textResponse(http.StatusBadGateway, "network error: "+err.Error())
}

func (d *Dispatcher) cacheableStatic(req *Request, resp *Response) bool {
	return cacheableMethod(req.Method) && partition.IsCacheableStatus(resp.Status) && d.Trusted(req.URL)
}

// Trusted 判断 u 的主机是否为源站或受信 CDN。
func (d *Dispatcher) Trusted(u *url.URL) bool {
	_, ok := d.trusted[strings.ToLower(u.Host)]
	return ok
}

func (d *Dispatcher) mutableDataPointer(req *Request) bool {
	if d.dataPrefix == "" || !strings.EqualFold(req.URL.Host, d.origin.Host) {
		return false
	}
	if !strings.HasPrefix(req.URL.Path, d.dataPrefix) {
		return false
	}
	ref := artifact.Classify(strings.TrimPrefix(req.URL.Path, d.dataPrefix))
	return ref.Kind == artifact.KindLatest
}

// branch 在任何读取之前把响应体拆成返回给调用方的一支和写入分区的一支。
func (d *Dispatcher) branch(partitionName string, req *Request, resp *Response) (*Response, []Effect) {
	client, stored, err := resp.Body.Tee()
	if err != nil {
		d.logger.WithError(err).WithField("url", req.URL.String()).Warn("offline_tee_failed")
		return resp, nil
	}
	resp.Body = client
	return resp, []Effect{{
		Partition: partitionName,
		Key:       req.Key(),
		Status:    resp.Status,
		Header:    resp.Header.Clone(),
		Body:      stored,
	}}
}

// lookup 只读分区；分区不存在、未命中或读取失败都视为未命中。
func (d *Dispatcher) lookup(ctx context.Context, partitionName, key string) *partition.Snapshot {
	exists, err := d.store.Has(ctx, partitionName)
	if err != nil || !exists {
		return nil
	}
	p, err := d.store.Open(ctx, partitionName)
	if err != nil {
		d.logger.WithError(err).WithField("partition", partitionName).Warn("partition_open_failed")
		return nil
	}
	snap, err := p.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, partition.ErrNotFound) {
			d.logger.WithError(err).WithField("partition", partitionName).Warn("partition_match_failed")
		}
		return nil
	}
	return snap
}

// Apply 执行 Handle 返回的写入。Put 读完整个分支后才提交，
// 源流中途中断时该条目被丢弃。分发器退役后到达的写入直接丢弃。
func (d *Dispatcher) Apply(ctx context.Context, effects []Effect) error {
	if len(effects) == 0 {
		return nil
	}
	d.retireMu.RLock()
	defer d.retireMu.RUnlock()

	var errs []error
	for _, effect := range effects {
		if d.retired {
			effect.Discard()
			continue
		}
		if err := d.apply(ctx, effect); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", effect.Key, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) apply(ctx context.Context, effect Effect) error {
	defer effect.Discard()
	p, err := d.store.Open(ctx, effect.Partition)
	if err != nil {
		return err
	}
	return p.Put(ctx, effect.Key, effect.Status, effect.Header, effect.Body)
}

// retire 等待进行中的 Apply 结束，之后的写入全部丢弃。
func (d *Dispatcher) retire() {
	d.retireMu.Lock()
	d.retired = true
	d.retireMu.Unlock()
}
