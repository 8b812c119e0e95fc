// Package lifecycle keeps each owner's memory set bounded and fresh: it
// decays importance, evicts over quota, prunes stale records and compresses
// clusters of related memories into summaries.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/store"
)

// State is an owner's lifecycle state.
type State string

const (
	StateNormal      State = "NORMAL"
	StateEvicting    State = "EVICTING"
	StateCompressing State = "COMPRESSING"
)

// Checkpoint names persisted in the store.
const (
	checkpointDecay    = "decay"
	checkpointCompress = "compress"
)

// Config holds lifecycle policy.
type Config struct {
	DecayFactor       float64       `yaml:"decay_factor"`
	DecayPeriod       time.Duration `yaml:"decay_period"`
	RecencyHalfLife   time.Duration `yaml:"recency_half_life"`
	CompressThreshold float64       `yaml:"compress_threshold"`
	CompressMinAge    time.Duration `yaml:"compress_min_age"`
	MaxClusterSize    int           `yaml:"max_cluster_size"`
	PruneAge          time.Duration `yaml:"prune_age"`
	PruneImportance   float64       `yaml:"prune_importance"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		DecayFactor:       0.98,
		DecayPeriod:       24 * time.Hour,
		RecencyHalfLife:   14 * 24 * time.Hour,
		CompressThreshold: 0.85,
		CompressMinAge:    7 * 24 * time.Hour,
		MaxClusterSize:    8,
		PruneAge:          30 * 24 * time.Hour,
		PruneImportance:   0.1,
	}
}

// Validate checks that the policy is usable.
func (c Config) Validate() error {
	var errs []error
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		errs = append(errs, fmt.Errorf("decay_factor must be in (0,1], got %v", c.DecayFactor))
	}
	if c.DecayPeriod <= 0 {
		errs = append(errs, fmt.Errorf("decay_period must be positive, got %v", c.DecayPeriod))
	}
	if c.RecencyHalfLife <= 0 {
		errs = append(errs, fmt.Errorf("recency_half_life must be positive, got %v", c.RecencyHalfLife))
	}
	if c.CompressThreshold <= 0 || c.CompressThreshold > 1 {
		errs = append(errs, fmt.Errorf("compress_threshold must be in (0,1], got %v", c.CompressThreshold))
	}
	if c.CompressMinAge < 0 {
		errs = append(errs, fmt.Errorf("compress_min_age must not be negative, got %v", c.CompressMinAge))
	}
	if c.MaxClusterSize < 2 {
		errs = append(errs, fmt.Errorf("max_cluster_size must be at least 2, got %d", c.MaxClusterSize))
	}
	if c.PruneAge < 0 {
		errs = append(errs, fmt.Errorf("prune_age must not be negative, got %v", c.PruneAge))
	}
	if c.PruneImportance < 0 || c.PruneImportance > 1 {
		errs = append(errs, fmt.Errorf("prune_importance must be in [0,1], got %v", c.PruneImportance))
	}
	return errors.Join(errs...)
}

// Manager applies lifecycle policy through store transactions. Every
// mutation for an owner is one store.Update, so readers never observe a
// partial eviction or compression.
type Manager struct {
	store      store.Store
	embedder   embedding.Embedder
	summarizer Summarizer
	cfg        Config
	log        *logrus.Entry

	mu     sync.Mutex
	active map[string]*ownerState
}

type ownerState struct {
	maint       sync.Mutex
	evicting    int
	compressing int
}

// New returns a manager. A nil summarizer uses Extractive.
func New(st store.Store, emb embedding.Embedder, sum Summarizer, cfg Config, log *logrus.Entry) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle config: %w", err)
	}
	if sum == nil {
		sum = NewExtractive(0)
	}
	return &Manager{
		store:      st,
		embedder:   emb,
		summarizer: sum,
		cfg:        cfg,
		log:        logging.OrDefault(log, "lifecycle"),
		active:     make(map[string]*ownerState),
	}, nil
}

// Config returns the manager's policy.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) owner(owner string) *ownerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.active[owner]
	if !ok {
		st = &ownerState{}
		m.active[owner] = st
	}
	return st
}

// State reports whether owner is currently evicting or compressing.
func (m *Manager) State(owner string) State {
	st := m.owner(owner)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case st.evicting > 0:
		return StateEvicting
	case st.compressing > 0:
		return StateCompressing
	}
	return StateNormal
}

// enter marks owner as being in s until the returned func is called.
func (m *Manager) enter(owner string, s State) func() {
	st := m.owner(owner)
	m.mu.Lock()
	counter := &st.evicting
	if s == StateCompressing {
		counter = &st.compressing
	}
	*counter++
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		*counter--
		m.mu.Unlock()
	}
}
