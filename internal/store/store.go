// Package store provides durable, owner-partitioned memory storage with an
// in-memory similarity index per owner.
package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/model"
)

// DefaultCap is the default per-owner record limit.
const DefaultCap = 1000

// Hit is a query result.
type Hit struct {
	Memory     model.Memory `json:"memory"`
	Similarity float64      `json:"similarity"`
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	Owner          string
	ConversationID string
	Kind           string
	Tags           []string
	Limit          int
}

// Options configures a SQLiteStore.
type Options struct {
	Cap    int          // per-owner live record limit
	Index  index.Config // ANN selection and tuning
	Now    func() time.Time
	Logger *logrus.Entry
}

// Store is the memory storage surface the engine depends on.
type Store interface {
	// Insert adds one record outside any lifecycle policy. It fails with
	// model.ErrQuotaExceeded when the owner is at the cap.
	Insert(ctx context.Context, rec model.Memory) (model.Memory, error)

	// Update runs fn inside an owner-scoped transaction. Everything fn
	// does through the Tx commits atomically or not at all.
	Update(ctx context.Context, owner string, fn func(tx *Tx) error) error

	// Query returns up to k records of owner with similarity >= minSim,
	// most similar first.
	Query(ctx context.Context, owner string, vec []float32, k int, minSim float64) ([]Hit, error)

	// Touch records an access to ids at the given time.
	Touch(ctx context.Context, owner string, ids []string, at time.Time) error

	// Delete removes ids and reports how many existed.
	Delete(ctx context.Context, owner string, ids []string) (int, error)

	Get(ctx context.Context, owner, id string) (*model.Memory, error)
	List(ctx context.Context, p ListParams) ([]model.Memory, error)
	Count(ctx context.Context, owner string) (int, error)
	Owners(ctx context.Context) ([]string, error)

	// Checkpoint returns the last time the named maintenance step ran.
	Checkpoint(ctx context.Context, owner, name string) (time.Time, bool, error)

	// Rebuild replaces owner's similarity index with a fresh one.
	Rebuild(ctx context.Context, owner string) error

	Close() error
}
