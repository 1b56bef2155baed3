// Package session owns the per-session analytics pipeline: source
// selection, the replay controller, the rolling buffer and the
// orchestrator that moves snapshots between them.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/analytics"
	"github.com/quantfold/lobstream/internal/models"
	"github.com/quantfold/lobstream/internal/source"
	"github.com/quantfold/lobstream/internal/ws"
)

// Mode names the snapshot source a session ended up with after the
// fallback chain ran.
type Mode string

const (
	ModePostgres  Mode = "postgres"
	ModeCSV       Mode = "csv"
	ModeSynthetic Mode = "synthetic"
)

// Options are the knobs shared by every session the manager creates.
type Options struct {
	BufferCapacity int
	CSVPath        string
	PostgresDelay  time.Duration
	CSVDelay       time.Duration
	Synthetic      source.SyntheticConfig
	Analytics      analytics.Config
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		BufferCapacity: 100,
		PostgresDelay:  250 * time.Millisecond,
		CSVDelay:       100 * time.Millisecond,
		Synthetic:      source.DefaultSyntheticConfig(),
		Analytics:      analytics.DefaultConfig(),
	}
}

// Deps are the shared external collaborators. Any of them may be nil;
// the fallback chain and the orchestrator handle absence.
type Deps struct {
	DB       source.DB
	Cache    LatestCache
	Notifier AnomalyNotifier
}

// Session is one independent analytics pipeline with its own engine
// state, playback controller, buffer and subscriber hub.
type Session struct {
	ID         uuid.UUID
	Mode       Mode
	CreatedAt  time.Time
	Engine     *analytics.Engine
	Controller *ReplayController
	Buffer     *Buffer
	Hub        *ws.Hub

	src    source.Source
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Info is the API-facing summary of a session.
type Info struct {
	ID        uuid.UUID   `json:"id"`
	Mode      Mode        `json:"mode"`
	State     ReplayState `json:"state"`
	Speed     int         `json:"speed"`
	Cursor    *time.Time  `json:"cursor,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Buffered  int         `json:"buffered"`
	Clients   int         `json:"clients"`
}

// Info returns the current summary.
func (s *Session) Info() Info {
	status := s.Controller.Status()
	return Info{
		ID:        s.ID,
		Mode:      s.Mode,
		State:     status.State,
		Speed:     status.Speed,
		Cursor:    status.Cursor,
		CreatedAt: s.CreatedAt,
		Buffered:  s.Buffer.Len(),
		Clients:   s.Hub.ClientCount(),
	}
}

// InjectOrder forwards an order to the source if it supports
// injection; only the synthetic generator does.
func (s *Session) InjectOrder(req models.OrderRequest) bool {
	injector, ok := s.src.(source.OrderInjector)
	if !ok {
		return false
	}
	if req.Side != models.SideBid && req.Side != "buy" && req.Side != models.SideAsk && req.Side != "sell" {
		return false
	}
	side := "buy"
	if req.Side == models.SideAsk || req.Side == "sell" {
		side = "sell"
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	injector.InjectOrder(side, qty)
	return true
}

// Manager creates and tracks sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	deps     Deps
	opts     Options
	log      *logrus.Entry
}

// NewManager creates a session manager with the given shared
// collaborators.
func NewManager(deps Deps, opts Options) *Manager {
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = DefaultOptions().BufferCapacity
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		deps:     deps,
		opts:     opts,
		log:      logrus.WithField("component", "session-manager"),
	}
}

// Create builds a new session, runs the source fallback chain once and
// starts the hub and orchestrator goroutines.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := uuid.New()
	controller := NewReplayController()

	src, mode, err := m.selectSource(ctx, controller)
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshot source: %w", err)
	}

	sess := &Session{
		ID:         id,
		Mode:       mode,
		CreatedAt:  time.Now().UTC(),
		Engine:     analytics.NewEngine(m.opts.Analytics),
		Controller: controller,
		Buffer:     NewBuffer(m.opts.BufferCapacity),
		src:        src,
	}

	sess.Hub = ws.NewHub(sess.Buffer.Items, func(req models.OrderRequest) {
		if !sess.InjectOrder(req) {
			m.log.WithField("session", sess.ID).Debug("Ignoring order on non-injectable source")
		}
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel

	if syn, ok := src.(*source.Synthetic); ok {
		syn.Start(runCtx)
	}

	orch := NewOrchestrator(
		id.String(), src, sess.Engine, controller, sess.Buffer,
		sess.Hub, m.deps.Cache, m.deps.Notifier, mode == ModeSynthetic,
	)

	sess.wg.Add(2)
	go func() {
		defer sess.wg.Done()
		sess.Hub.Run(runCtx)
	}()
	go func() {
		defer sess.wg.Done()
		orch.Run(runCtx)
	}()

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"session": id,
		"mode":    mode,
	}).Info("Session created")

	return sess, nil
}

// selectSource runs the fallback chain in priority order: Postgres
// replay, then the bulk CSV export, then the synthetic generator. The
// choice is made once per session and never revisited.
func (m *Manager) selectSource(ctx context.Context, controller *ReplayController) (source.Source, Mode, error) {
	if m.deps.DB != nil {
		src, err := source.NewPostgresReplay(ctx, m.deps.DB, m.opts.PostgresDelay)
		if err == nil {
			return src, ModePostgres, nil
		}
		m.log.WithError(err).Warn("Postgres replay unavailable, trying CSV")
	} else {
		m.log.Warn("No database configured, trying CSV")
	}

	if m.opts.CSVPath != "" {
		src, err := source.NewCSVReplay(m.opts.CSVPath, m.opts.CSVDelay)
		if err == nil {
			return src, ModeCSV, nil
		}
		m.log.WithError(err).Warn("CSV replay unavailable, falling back to synthetic")
	} else {
		m.log.Warn("No replay file configured, falling back to synthetic")
	}

	cfg := m.opts.Synthetic
	syn := source.NewSynthetic(cfg, func() time.Duration {
		return controller.Delay(cfg.TimeStep)
	})
	return syn, ModeSynthetic, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// List returns summaries of all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(a, b int) bool {
		return sessions[a].CreatedAt.Before(sessions[b].CreatedAt)
	})

	infos := make([]Info, len(sessions))
	for i, sess := range sessions {
		infos[i] = sess.Info()
	}
	return infos
}

// Close tears down one session: stops its goroutines and closes its
// source.
func (m *Manager) Close(id uuid.UUID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	sess.cancel()
	sess.wg.Wait()
	if err := sess.src.Close(); err != nil {
		return fmt.Errorf("failed to close source: %w", err)
	}
	m.log.WithField("session", id).Info("Session closed")
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(id); err != nil {
			m.log.WithError(err).WithField("session", id).Warn("Failed to close session")
		}
	}
}
