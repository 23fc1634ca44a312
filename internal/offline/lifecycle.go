package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/currents-hub/currents/internal/artifact"
	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/metrics"
	"github.com/currents-hub/currents/internal/partition"
)

// State 是一个部署版本的生命周期阶段。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInstalling    State = "installing"
	StateInstalled     State = "installed"
	StateActivating    State = "activating"
	StateActive        State = "active"
	StateRedundant     State = "redundant"
)

// installConcurrency 限制安装阶段并发预取的静态资源数。
const installConcurrency = 4

// Manager 管理单个部署版本的安装、激活与分区维护。
type Manager struct {
	cfg        config.ClientConfig
	store      partition.Store
	fetcher    Fetcher
	logger     *logrus.Logger
	dispatcher *Dispatcher
	now        func() time.Time

	mu          sync.Mutex
	state       State
	skipWaiting bool
}

// NewManager 创建处于 uninitialized 状态的管理器。
func NewManager(cfg config.ClientConfig, store partition.Store, fetcher Fetcher, logger *logrus.Logger) (*Manager, error) {
	if cfg.Version == "" {
		return nil, errors.New("client version is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dispatcher, err := NewDispatcher(cfg, store, fetcher, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		fetcher:    fetcher,
		logger:     logger,
		dispatcher: dispatcher,
		now:        time.Now,
		state:      StateUninitialized,
	}, nil
}

func (m *Manager) Version() string {
	return m.cfg.Version
}

func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.mu.Unlock()
	m.logger.WithFields(logrus.Fields{
		"action":  "lifecycle",
		"version": m.cfg.Version,
		"from":    prev,
		"to":      state,
	}).Info("offline_state_changed")
}

// SkipWaiting 请求安装完成后立即激活，而不等待旧版本的请求结束。
func (m *Manager) SkipWaiting() {
	m.mu.Lock()
	m.skipWaiting = true
	m.mu.Unlock()
}

func (m *Manager) SkipWaitingRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipWaiting
}

// Install 打开静态分区并预取静态资源；单个资源失败只记录日志。
func (m *Manager) Install(ctx context.Context) error {
	m.setState(StateInstalling)
	static, err := m.store.Open(ctx, m.cfg.StaticPartition())
	if err != nil {
		m.setState(StateRedundant)
		return fmt.Errorf("open static partition: %w", err)
	}

	var stored, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for _, asset := range m.cfg.StaticAssets {
		g.Go(func() error {
			if err := m.precache(gctx, static, asset); err != nil {
				failed.Add(1)
				m.logger.WithError(err).WithField("asset", asset).Warn("offline_precache_failed")
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	if m.cfg.PrewarmCurrentData {
		g.Go(func() error {
			n, err := m.prewarm(gctx, static)
			stored.Add(int64(n))
			if err != nil {
				failed.Add(1)
				m.logger.WithError(err).Warn("offline_prewarm_failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		m.setState(StateRedundant)
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"action":  "install",
		"version": m.cfg.Version,
		"stored":  stored.Load(),
		"failed":  failed.Load(),
	}).Info("offline_install_complete")
	m.setState(StateInstalled)
	return nil
}

func (m *Manager) precache(ctx context.Context, p partition.Partition, ref string) error {
	target, err := m.dispatcher.Resolve(ref)
	if err != nil {
		return err
	}
	req := &Request{Method: http.MethodGet, URL: target, Header: http.Header{}}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !partition.IsCacheableStatus(resp.Status) {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	return p.Put(ctx, req.Key(), resp.Status, resp.Header, resp.Body)
}

// prewarm 读取 latest.json 指向的运行，并预取其 manifest 与 geometry。
// latest.json 本身会变化，不写入分区。
func (m *Manager) prewarm(ctx context.Context, p partition.Partition) (int, error) {
	latestURL, err := m.dispatcher.Resolve(path.Join(m.cfg.CurrentDataPrefix, artifact.LatestFile))
	if err != nil {
		return 0, err
	}
	resp, err := m.fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: latestURL, Header: http.Header{}})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if !partition.IsCacheableStatus(resp.Status) {
		return 0, fmt.Errorf("latest.json status %d", resp.Status)
	}
	latest, err := artifact.DecodeLatest(resp.Body)
	if err != nil {
		return 0, err
	}

	stored := 0
	var errs []error
	for _, object := range artifact.RunPaths(latest.Run) {
		if err := m.precache(ctx, p, path.Join(m.cfg.CurrentDataPrefix, object)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", object, err))
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}

// RetainedPartitions 返回本版本保留的分区名。
func (m *Manager) RetainedPartitions() []string {
	return []string{m.cfg.StaticPartition(), m.cfg.TilePartition()}
}

// Activate 删除本版本保留集之外的全部分区，返回被删除的分区名。
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	m.setState(StateActivating)
	names, err := m.store.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	retained := map[string]struct{}{}
	for _, name := range m.RetainedPartitions() {
		retained[name] = struct{}{}
	}

	var deleted []string
	for _, name := range names {
		if _, keep := retained[name]; keep {
			continue
		}
		if _, err := m.store.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("delete partition %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	m.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"version": m.cfg.Version,
		"deleted": deleted,
	}).Info("offline_partitions_retired")
	m.setState(StateActive)
	return deleted, nil
}

// Retire 把被新版本取代的管理器标记为 redundant，并停止其写入。
func (m *Manager) Retire() {
	m.dispatcher.retire()
	m.setState(StateRedundant)
}

// PurgeTiles 删除模型起报时间早于保留窗口的瓦片；
// 无法从 URL 解析时间的条目按写入时间计算。
func (m *Manager) PurgeTiles(ctx context.Context) (int, error) {
	exists, err := m.store.Has(ctx, m.cfg.TilePartition())
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	p, err := m.store.Open(ctx, m.cfg.TilePartition())
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-m.cfg.TileRetention.DurationValue())
	var expired []string
	err = p.Walk(ctx, func(key string, snap *partition.Snapshot) error {
		if m.tileTime(key, snap).Before(cutoff) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk tile partition: %w", err)
	}

	purged := 0
	for _, key := range expired {
		removed, err := p.Delete(ctx, key)
		if err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}
	metrics.TilesPurged(purged)
	m.logger.WithFields(logrus.Fields{
		"action":  "clean_tiles",
		"version": m.cfg.Version,
		"purged":  purged,
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
	}).Info("offline_tiles_purged")
	return purged, nil
}

func (m *Manager) tileTime(key string, snap *partition.Snapshot) time.Time {
	if _, rawURL, err := partition.SplitKey(key); err == nil {
		if u, err := url.Parse(rawURL); err == nil {
			if t, ok := TileModelRun(u, m.cfg.TileSegment); ok {
				return t
			}
		}
	}
	return snap.StoredAt
}
