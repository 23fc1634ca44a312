package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/partition"
)

// ErrNotActive 表示还没有任何版本完成激活。
var ErrNotActive = errors.New("no active client version")

type worker struct {
	manager  *Manager
	inflight int
}

// Runtime 托管当前生效与等待激活的版本。请求在 Acquire 中等待就绪信号，
// 任何请求都不会被分发给尚未完成激活的版本。
type Runtime struct {
	store   partition.Store
	fetcher Fetcher
	logger  *logrus.Logger

	mu         sync.Mutex
	active     *worker
	waiting    *worker
	installing *Manager
	activating bool
	ready      chan struct{}
	gateOpen   bool
	clients    int
	// failure 记录首个版本安装或激活失败的原因；非空时 Acquire 不再等待。
	failure error
}

// NewRuntime 创建空的运行时；首次 Upgrade 完成前所有请求都会阻塞。
func NewRuntime(store partition.Store, fetcher Fetcher, logger *logrus.Logger) *Runtime {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runtime{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready 返回在当前没有激活进行时关闭的通道。
func (r *Runtime) Ready() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Upgrade 安装 cfg 描述的版本。首个版本安装后立即激活；之后的版本
// 等到所有已打开的客户端关闭，或收到 SKIP_WAITING 后才激活。
func (r *Runtime) Upgrade(ctx context.Context, cfg config.ClientConfig) error {
	r.mu.Lock()
	if r.hasVersionLocked(cfg.Version) {
		retry := r.failure != nil && r.waiting != nil && r.waiting.manager.Version() == cfg.Version
		r.mu.Unlock()
		if retry {
			return r.activateWaiting(ctx)
		}
		return nil
	}
	manager, err := NewManager(cfg, r.store, r.fetcher, r.logger)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.installing = manager
	r.mu.Unlock()

	installErr := manager.Install(ctx)

	r.mu.Lock()
	if r.installing == manager {
		r.installing = nil
	}
	if installErr != nil {
		if r.active == nil {
			r.failure = installErr
			r.wakeLocked()
		}
		r.mu.Unlock()
		return installErr
	}
	if r.waiting != nil {
		superseded := r.waiting.manager
		r.mu.Unlock()
		superseded.Retire()
		r.mu.Lock()
	}
	r.waiting = &worker{manager: manager}
	promote := r.active == nil || r.clients == 0 || manager.SkipWaitingRequested()
	r.mu.Unlock()

	if promote {
		return r.activateWaiting(ctx)
	}
	r.logger.WithField("version", cfg.Version).Info("offline_version_waiting")
	return nil
}

func (r *Runtime) hasVersionLocked(version string) bool {
	if r.active != nil && r.active.manager.Version() == version {
		return true
	}
	if r.waiting != nil && r.waiting.manager.Version() == version {
		return true
	}
	return r.installing != nil && r.installing.Version() == version
}

// activateWaiting 激活等待中的版本：关闭就绪门、停止旧版本写入、
// 清理旧分区，然后切换分发器并重新打开就绪门。
func (r *Runtime) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	if r.activating || r.waiting == nil {
		r.mu.Unlock()
		return nil
	}
	next := r.waiting
	prev := r.active
	r.activating = true
	if r.gateOpen {
		r.ready = make(chan struct{})
		r.gateOpen = false
	}
	r.mu.Unlock()

	if prev != nil {
		prev.manager.dispatcher.retire()
	}
	_, err := next.manager.Activate(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.activating = false
	if err != nil && prev == nil {
		// 没有可回退的版本：保留为等待版本，等下一次 Upgrade 或 SKIP_WAITING 重试。
		next.manager.setState(StateInstalled)
		r.failure = err
		r.wakeLocked()
		return err
	}
	if r.waiting == next {
		r.waiting = nil
	}
	if err != nil {
		next.manager.setState(StateRedundant)
		r.openGateLocked()
		return err
	}
	if prev != nil {
		prev.manager.setState(StateRedundant)
	}
	r.active = next
	r.failure = nil
	r.openGateLocked()
	return nil
}

func (r *Runtime) openGateLocked() {
	if r.active == nil || r.gateOpen {
		return
	}
	close(r.ready)
	r.gateOpen = true
}

// wakeLocked 唤醒正在等待就绪门的请求，让它们重新检查 failure；门保持关闭。
func (r *Runtime) wakeLocked() {
	if r.gateOpen {
		return
	}
	close(r.ready)
	r.ready = make(chan struct{})
}

// Acquire 等待就绪后返回当前生效的分发器；release 必须在响应写完、
// Effect 执行完毕后调用。首个版本安装或激活失败时立即返回 ErrNotActive。
func (r *Runtime) Acquire(ctx context.Context) (*Dispatcher, func(), error) {
	for {
		r.mu.Lock()
		if r.active != nil && !r.activating {
			w := r.active
			w.inflight++
			r.mu.Unlock()
			return w.manager.Dispatcher(), r.releaseFunc(w), nil
		}
		if r.active == nil && !r.activating && r.failure != nil {
			failure := r.failure
			r.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %v", ErrNotActive, failure)
		}
		gate := r.ready
		r.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (r *Runtime) releaseFunc(w *worker) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			w.inflight--
			r.mu.Unlock()
		})
	}
}

// Attach 登记一个打开的客户端，返回的 detach 在客户端关闭时调用。
// 最后一个客户端关闭后，等待中的版本自动激活。
func (r *Runtime) Attach() (detach func()) {
	r.mu.Lock()
	r.clients++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.clients--
			promote := r.clients == 0 && r.active != nil && r.waiting != nil && !r.activating
			r.mu.Unlock()
			if !promote {
				return
			}
			go func() {
				if err := r.activateWaiting(context.Background()); err != nil {
					r.logger.WithError(err).Error("offline_activation_failed")
				}
			}()
		})
	}
}

// HandleMessage 执行控制通道消息。
func (r *Runtime) HandleMessage(ctx context.Context, raw []byte) (ControlResult, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return ControlResult{}, err
	}
	result := ControlResult{Command: cmd}

	switch cmd {
	case CommandSkipWaiting:
		r.mu.Lock()
		waiting := r.waiting
		installing := r.installing
		r.mu.Unlock()
		if installing != nil {
			installing.SkipWaiting()
		}
		if waiting == nil {
			result.Noop = installing == nil
			return result, nil
		}
		waiting.manager.SkipWaiting()
		if err := r.activateWaiting(ctx); err != nil {
			return result, err
		}
		result.Activated = waiting.manager.Version()
		return result, nil

	case CommandCleanTiles:
		r.mu.Lock()
		active := r.active
		r.mu.Unlock()
		if active == nil {
			return result, ErrNotActive
		}
		purged, err := active.manager.PurgeTiles(ctx)
		result.Purged = purged
		return result, err
	}
	return result, ErrUnknownCommand
}

// WorkerState 描述一个版本的状态。
type WorkerState struct {
	Version  string `json:"version"`
	State    State  `json:"state"`
	Inflight int    `json:"inflight"`
}

// RuntimeState 是运行时快照，供 /-/sw/state 使用。
type RuntimeState struct {
	Ready   bool         `json:"ready"`
	Clients int          `json:"clients"`
	Active  *WorkerState `json:"active,omitempty"`
	Waiting *WorkerState `json:"waiting,omitempty"`
}

func (r *Runtime) State() RuntimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := RuntimeState{Ready: r.gateOpen, Clients: r.clients}
	if r.active != nil {
		state.Active = &WorkerState{Version: r.active.manager.Version(), State: r.active.manager.State(), Inflight: r.active.inflight}
	}
	if r.waiting != nil {
		state.Waiting = &WorkerState{Version: r.waiting.manager.Version(), State: r.waiting.manager.State(), Inflight: r.waiting.inflight}
	}
	return state
}
