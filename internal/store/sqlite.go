package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
)

// SQLiteStore implements Store using SQLite for durability and a lazily
// loaded in-memory partition per owner for similarity search.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts Options
	log  *logrus.Entry

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	mu       sync.Mutex
	parts    map[string]*partition
	loads    singleflight.Group
	rebuilds sync.WaitGroup
	closed   atomic.Bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps SQLite writers from racing for the lock.
	db.SetMaxOpenConns(1)

	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		opts:    opts,
		log:     logging.OrDefault(opts.Logger, "store"),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		parts:   make(map[string]*partition),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Cap returns the per-owner record limit.
func (s *SQLiteStore) Cap() int { return s.opts.Cap }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) now() time.Time { return s.opts.Now().UTC() }

func (s *SQLiteStore) newID(at time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		conversation_id  TEXT NOT NULL DEFAULT '',
		content          TEXT NOT NULL,
		kind             TEXT NOT NULL DEFAULT 'semantic',
		tags             TEXT,
		embedding        BLOB NOT NULL,
		importance       REAL NOT NULL,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 0,
		compressed_from  TEXT,
		meta             TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id, id);
	CREATE INDEX IF NOT EXISTS idx_memories_owner_kind ON memories(owner_id, kind);

	CREATE TABLE IF NOT EXISTS memory_lineage (
		source_id      TEXT PRIMARY KEY,
		product_id     TEXT NOT NULL,
		owner_id       TEXT NOT NULL,
		source_content TEXT NOT NULL,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lineage_product ON memory_lineage(product_id);

	CREATE TABLE IF NOT EXISTS maintenance_checkpoints (
		owner_id TEXT NOT NULL,
		name     TEXT NOT NULL,
		at       TEXT NOT NULL,
		PRIMARY KEY (owner_id, name)
	);

	CREATE TABLE IF NOT EXISTS turns (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		user_text       TEXT NOT NULL,
		assistant_text  TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(owner_id, conversation_id, id);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content=memories,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers keep the keyword index in sync with memories.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF content ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}

// Get returns one record of owner.
func (s *SQLiteStore) Get(ctx context.Context, owner, id string) (*model.Memory, error) {
	p, err := s.partition(ctx, owner)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, model.ErrNotFound)
	}
	c := rec.Clone()
	return &c, nil
}

// List lists memories matching the given filters, newest first.
func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Memory, error) {
	if p.Owner == "" {
		return nil, fmt.Errorf("list: owner is required: %w", model.ErrInvalidInput)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"owner_id = ?"}
	args := []interface{}{p.Owner}
	if p.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, p.ConversationID)
	}
	if p.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, p.Kind)
	}
	for _, tag := range p.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	args = append(args, limit)

	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC LIMIT ?`
	return s.queryMemories(ctx, query, args...)
}

// Count returns the number of live records of owner.
func (s *SQLiteStore) Count(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE owner_id = ?`, owner).Scan(&n)
	return n, err
}

// Owners returns every owner with at least one record, sorted.
func (s *SQLiteStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM memories ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// Checkpoint returns when the named maintenance step last ran for owner.
func (s *SQLiteStore) Checkpoint(ctx context.Context, owner, name string) (time.Time, bool, error) {
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT at FROM maintenance_checkpoints WHERE owner_id = ? AND name = ?`, owner, name).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return t, true, nil
}

// Close waits for background index rebuilds and closes the database.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.rebuilds.Wait()
	return s.db.Close()
}

const memoryColumns = `id, owner_id, conversation_id, content, kind, tags, embedding, importance,
	created_at, last_accessed_at, access_count, compressed_from, meta`

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...interface{}) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var tagsJSON, compressedJSON, meta sql.NullString
	var vecBlob []byte
	var createdAt, lastAccessed string

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.ConversationID, &m.Content, &m.Kind, &tagsJSON,
		&vecBlob, &m.Importance, &createdAt, &lastAccessed, &m.AccessCount,
		&compressedJSON, &meta,
	)
	if err != nil {
		return m, err
	}

	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessed)
	if m.Embedding, err = decodeVector(vecBlob); err != nil {
		return m, fmt.Errorf("decode embedding of %s: %w", m.ID, err)
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	if compressedJSON.Valid {
		json.Unmarshal([]byte(compressedJSON.String), &m.CompressedFrom)
	}
	if meta.Valid {
		m.Meta = meta.String
	}
	return m, nil
}

func encodeVector(v []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return v, nil
}

func nullJSON(v interface{}, empty bool) *string {
	if empty {
		return nil
	}
	b, _ := json.Marshal(v)
	s := string(b)
	return &s
}

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
