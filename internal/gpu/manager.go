// Package gpu serializes access to the single GPU-resident transcription
// model. One Manager owns one Slot; callers hold a Handle while they use it.
package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

type Policy string

const (
	// PolicyEager unloads the model as soon as the holder releases it.
	PolicyEager Policy = "eager"
	// PolicyKeepWarm leaves the model loaded until Reap finds it idle.
	PolicyKeepWarm Policy = "keep_warm"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyEager, PolicyKeepWarm:
		return Policy(s), nil
	case "":
		return PolicyEager, nil
	}
	return "", fmt.Errorf("%w: unknown model release policy %q", common.ErrValidation, s)
}

// Audio is the input handed to the backend.
type Audio struct {
	Filename string
	Data     []byte
	// Language is an ISO 639-1 hint; empty lets the model detect it.
	Language string
}

// Backend is the process that actually hosts the model.
type Backend interface {
	Load(ctx context.Context, model string) error
	Unload(ctx context.Context) error
	Transcribe(ctx context.Context, model string, audio Audio) (string, error)
}

// Slot mirrors what the manager believes is resident on the GPU.
type Slot struct {
	Loaded     bool      `json:"loaded"`
	ModelName  string    `json:"model_name,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// PreLoadHook runs before a model is loaded, typically to evict other GPU
// tenants. Its error is logged and otherwise ignored.
type PreLoadHook func(ctx context.Context) error

type Options struct {
	Policy      Policy
	LoadTimeout time.Duration
	PreLoad     PreLoadHook
}

type Manager struct {
	backend Backend
	opts    Options

	// lock grants the slot to one holder at a time, in arrival order.
	lock *semaphore.Weighted

	mu   sync.Mutex
	slot Slot
}

func NewManager(backend Backend, opts Options) *Manager {
	if opts.Policy == "" {
		opts.Policy = PolicyEager
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Minute
	}
	return &Manager{
		backend: backend,
		opts:    opts,
		lock:    semaphore.NewWeighted(1),
	}
}

// Acquire waits for the lock, then makes sure model is resident. Only the
// caller blocks. If ctx ends while waiting, the lock is not taken.
func (m *Manager) Acquire(ctx context.Context, model string) (*Handle, error) {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return nil, common.NewStageError(common.KindOf(err), "gave up waiting for the transcription model", err)
	}

	if err := m.ensureLoaded(ctx, model); err != nil {
		m.lock.Release(1)
		return nil, err
	}
	return &Handle{m: m, model: model}, nil
}

// Release gives the lock back. Releasing the same handle twice is a no-op.
func (m *Manager) Release(h *Handle) {
	if h != nil {
		h.Release()
	}
}

// Reap unloads a warm model that has been idle for longer than idle. It
// does nothing if the lock is held. It reports whether a model was unloaded.
func (m *Manager) Reap(ctx context.Context, idle time.Duration) bool {
	if !m.lock.TryAcquire(1) {
		return false
	}
	defer m.lock.Release(1)

	s := m.Slot()
	if !s.Loaded || time.Since(s.LastUsedAt) < idle {
		return false
	}
	slog.Info("unloading idle transcription model", "model", s.ModelName, "idle", time.Since(s.LastUsedAt).Round(time.Second))
	m.unload(ctx)
	return true
}

// Slot returns a copy of the current slot state.
func (m *Manager) Slot() Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot
}

func (m *Manager) Policy() Policy {
	return m.opts.Policy
}

// Shutdown waits for the current holder and unloads whatever is resident.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.lock.Release(1)
	if m.Slot().Loaded {
		m.unload(ctx)
	}
	return nil
}

func (m *Manager) ensureLoaded(ctx context.Context, model string) error {
	s := m.Slot()
	if s.Loaded && s.ModelName == model {
		return nil
	}

	// Loading is not abandoned halfway when the caller goes away, so the
	// backend and the slot stay in agreement.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.LoadTimeout)
	defer cancel()

	if s.Loaded {
		slog.Info("swapping transcription model", "from", s.ModelName, "to", model)
		m.unload(loadCtx)
	}

	if m.opts.PreLoad != nil {
		if err := m.opts.PreLoad(loadCtx); err != nil {
			slog.Warn("pre-load hook failed", "model", model, "err", err)
		}
	}

	start := time.Now()
	if err := m.backend.Load(loadCtx, model); err != nil {
		m.setSlot(Slot{})
		slog.Error("failed to load transcription model", "model", model, "err", err)
		return common.NewStageError(common.KindResourceUnavailable, "transcription model could not be loaded", err)
	}
	m.setSlot(Slot{Loaded: true, ModelName: model, LastUsedAt: time.Now()})
	slog.Info("transcription model loaded", "model", model, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// unload always leaves the slot empty. A failed unload is logged: the
// backend frees the memory on its own when its process restarts.
func (m *Manager) unload(ctx context.Context) {
	if err := m.backend.Unload(ctx); err != nil {
		slog.Warn("failed to unload transcription model", "model", m.Slot().ModelName, "err", err)
	}
	m.setSlot(Slot{})
}

func (m *Manager) setSlot(s Slot) {
	m.mu.Lock()
	m.slot = s
	m.mu.Unlock()
}

func (m *Manager) touch() {
	m.mu.Lock()
	m.slot.LastUsedAt = time.Now()
	m.mu.Unlock()
}

// Handle is proof of holding the lock.
type Handle struct {
	m     *Manager
	model string
	once  sync.Once
}

func (h *Handle) Model() string {
	return h.model
}

// Transcribe runs the resident model on audio.
func (h *Handle) Transcribe(ctx context.Context, audio Audio) (string, error) {
	defer h.m.touch()
	return h.m.backend.Transcribe(ctx, h.model, audio)
}

// Release applies the release policy and frees the lock.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.m.opts.Policy == PolicyEager {
			ctx, cancel := context.WithTimeout(context.Background(), h.m.opts.LoadTimeout)
			h.m.unload(ctx)
			cancel()
		} else {
			h.m.touch()
		}
		h.m.lock.Release(1)
	})
}
