package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/adalundhe/neuralmem/core/neural"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists one brain in a single SQLite file. WAL mode gives
// one writer with parallel readers; all writes serialize through writeMu
// so batches commit in submission order.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	index   *ContentIndex
	logger  *slog.Logger
	writeMu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// Options tune how a brain file is opened.
type Options struct {
	// Index is the optional full-text content index. Nil disables
	// token-level search; substring matching still works.
	Index *ContentIndex
	// Logger defaults to a discard logger.
	Logger *slog.Logger
	// MaxReaders bounds the connection pool. Zero means 8.
	MaxReaders int
}

// Open opens (or creates) the brain file at path and migrates it to the
// latest schema version.
func Open(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create brain directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open brain %s: %w", path, err)
	}

	maxReaders := opts.MaxReaders
	if maxReaders <= 0 {
		maxReaders = 8
	}
	db.SetMaxOpenConns(maxReaders)
	db.SetMaxIdleConns(maxReaders / 2)
	db.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &SQLiteStore{db: db, path: path, index: opts.Index, logger: logger}
	if s.index != nil {
		if err := s.reindexContent(ctx); err != nil {
			logger.Warn("content reindex failed", "path", path, "error", err)
		}
	}
	return s, nil
}

// Path returns the brain file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// reindexContent rebuilds the full-text index from the neurons table.
func (s *SQLiteStore) reindexContent(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, type FROM neurons`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, content, typ string
		if err := rows.Scan(&id, &content, &typ); err != nil {
			return err
		}
		if err := s.index.Index(id, content, typ); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) AddNeuron(ctx context.Context, n *neural.Neuron) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.insertNeuron(ctx, s.db, n); err != nil {
		return err
	}
	s.indexNeuron(n)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertNeuron(ctx context.Context, ex execer, n *neural.Neuron) error {
	// OR IGNORE keeps adds idempotent on id and on the (type, canonical)
	// identity index: the first writer of an identity wins.
	_, err := ex.ExecContext(ctx, `INSERT OR IGNORE INTO neurons
		(id, type, content, canonical_content, metadata, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Type), n.Content, n.CanonicalContent(),
		marshalMap(n.Metadata), int64(n.ContentHash), formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert neuron %s: %w", n.ID, err)
	}
	return nil
}

func (s *SQLiteStore) indexNeuron(n *neural.Neuron) {
	if s.index == nil {
		return
	}
	if err := s.index.Index(n.ID, n.Content, string(n.Type)); err != nil {
		s.logger.Warn("index neuron failed", "neuron", n.ID, "error", err)
	}
}

const neuronCols = `id, type, content, metadata, content_hash, created_at`

func scanNeuron(row interface{ Scan(...any) error }) (*neural.Neuron, error) {
	var (
		n         neural.Neuron
		typ       string
		metadata  string
		hash      sql.NullInt64
		createdAt string
	)
	if err := row.Scan(&n.ID, &typ, &n.Content, &metadata, &hash, &createdAt); err != nil {
		return nil, err
	}
	n.Type = neural.NeuronType(typ)
	n.Metadata = unmarshalMap(metadata)
	n.ContentHash = uint64(hash.Int64)
	n.CreatedAt = parseTime(createdAt)
	return &n, nil
}

func (s *SQLiteStore) GetNeuron(ctx context.Context, id string) (*neural.Neuron, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+neuronCols+` FROM neurons WHERE id = ?`, id)
	n, err := scanNeuron(row)
	if err == sql.ErrNoRows {
		return nil, ErrNeuronNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get neuron %s: %w", id, err)
	}
	return n, nil
}

func (s *SQLiteStore) GetNeurons(ctx context.Context, ids []string) (map[string]*neural.Neuron, error) {
	out := make(map[string]*neural.Neuron, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT ` + neuronCols + ` FROM neurons WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, q, toAny(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get neurons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNeuron(rows)
		if err != nil {
			return nil, err
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindNeuron(ctx context.Context, typ neural.NeuronType, canonicalContent string) (*neural.Neuron, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+neuronCols+` FROM neurons WHERE type = ? AND canonical_content = ?`,
		string(typ), canonicalContent)
	n, err := scanNeuron(row)
	if err == sql.ErrNoRows {
		return nil, ErrNeuronNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find neuron: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) FindNeuronsByHash(ctx context.Context, hash uint64, maxDistance int) ([]*neural.Neuron, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+neuronCols+` FROM neurons WHERE content_hash IS NOT NULL AND content_hash != 0`)
	if err != nil {
		return nil, fmt.Errorf("find neurons by hash: %w", err)
	}
	defer rows.Close()

	var out []*neural.Neuron
	for rows.Next() {
		n, err := scanNeuron(rows)
		if err != nil {
			return nil, err
		}
		if neural.HammingDistance(n.ContentHash, hash) <= maxDistance {
			out = append(out, n)
		}
	}
	sortNeurons(out)
	return out, rows.Err()
}

func (s *SQLiteStore) FindNeuronsContaining(ctx context.Context, substr string, limit int) ([]*neural.Neuron, error) {
	if limit <= 0 {
		limit = 50
	}

	// Exact substring matches first, straight from the table.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+neuronCols+` FROM neurons WHERE canonical_content LIKE ? ORDER BY id LIMIT ?`,
		"%"+strings.ToLower(substr)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("find neurons containing: %w", err)
	}
	defer rows.Close()

	var out []*neural.Neuron
	seen := make(map[string]struct{})
	for rows.Next() {
		n, err := scanNeuron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		seen[n.ID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Token-level matches from the full-text index fill the remainder.
	if s.index != nil && len(out) < limit {
		ids, err := s.index.Search(substr, limit)
		if err != nil {
			s.logger.Warn("content index search failed", "error", err)
			return out, nil
		}
		var extra []string
		for _, id := range ids {
			if _, dup := seen[id]; !dup {
				extra = append(extra, id)
			}
		}
		if len(extra) > 0 {
			byID, err := s.GetNeurons(ctx, extra)
			if err != nil {
				return nil, err
			}
			for _, id := range extra {
				if n, ok := byID[id]; ok && len(out) < limit {
					out = append(out, n)
				}
			}
		}
	}
	return out, nil
}

func (s *SQLiteStore) UpdateNeuronMetadata(ctx context.Context, id string, metadata map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.GetNeuron(ctx, id)
	if err != nil {
		return err
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		n.Metadata[k] = v
	}
	_, err = s.db.ExecContext(ctx, `UPDATE neurons SET metadata = ? WHERE id = ?`,
		marshalMap(n.Metadata), id)
	if err != nil {
		return fmt.Errorf("update neuron metadata %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListNeurons(ctx context.Context, filter NeuronFilter) ([]*neural.Neuron, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		conds = append(conds, `type = ?`)
		args = append(args, string(filter.Type))
	}
	if filter.Contains != "" {
		conds = append(conds, `canonical_content LIKE ?`)
		args = append(args, "%"+strings.ToLower(filter.Contains)+"%")
	}

	if filter.TagGlob != "" {
		ids, err := s.neuronIDsByTagGlob(ctx, filter.TagGlob)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		conds = append(conds, `id IN (`+placeholders(len(ids))+`)`)
		args = append(args, toAny(ids)...)
	}

	q := `SELECT ` + neuronCols + ` FROM neurons`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY id`
	if filter.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	if filter.Offset > 0 {
		q += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list neurons: %w", err)
	}
	defer rows.Close()

	var out []*neural.Neuron
	for rows.Next() {
		n, err := scanNeuron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) neuronIDsByTagGlob(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile tag glob %q: %w", pattern, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, auto_tags, agent_tags FROM fibers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fiberIDs []string
	for rows.Next() {
		var id, autoTags, agentTags string
		if err := rows.Scan(&id, &autoTags, &agentTags); err != nil {
			return nil, err
		}
		tags := append(unmarshalStrings(autoTags), unmarshalStrings(agentTags)...)
		for _, tag := range tags {
			if g.Match(tag) {
				fiberIDs = append(fiberIDs, id)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fiberIDs) == 0 {
		return nil, nil
	}

	q := `SELECT DISTINCT neuron_id FROM fiber_neurons WHERE fiber_id IN (` + placeholders(len(fiberIDs)) + `)`
	nrows, err := s.db.QueryContext(ctx, q, toAny(fiberIDs)...)
	if err != nil {
		return nil, err
	}
	defer nrows.Close()
	var ids []string
	for nrows.Next() {
		var id string
		if err := nrows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nrows.Err()
}

func (s *SQLiteStore) DeleteNeurons(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM neurons WHERE id IN (`+placeholders(len(ids))+`)`, toAny(ids)...)
	if err != nil {
		return fmt.Errorf("delete neurons: %w", err)
	}
	if s.index != nil {
		for _, id := range ids {
			if err := s.index.Delete(id); err != nil {
				s.logger.Warn("unindex neuron failed", "neuron", id, "error", err)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) AddSynapse(ctx context.Context, syn *neural.Synapse) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertSynapse(ctx, s.db, syn)
}

func (s *SQLiteStore) insertSynapse(ctx context.Context, ex execer, syn *neural.Synapse) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO synapses
		(id, source_id, target_id, type, weight, direction, metadata, reinforced_count, last_activated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			weight = excluded.weight,
			metadata = excluded.metadata,
			reinforced_count = MAX(reinforced_count, excluded.reinforced_count),
			last_activated = COALESCE(excluded.last_activated, last_activated)`,
		syn.ID, syn.SourceID, syn.TargetID, string(syn.Type), syn.Weight,
		string(syn.Direction), marshalMap(syn.Metadata), syn.ReinforcedCount,
		formatTimePtr(syn.LastActivated), formatTime(syn.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert synapse %s: %w", syn.ID, err)
	}
	return nil
}

const synapseCols = `id, source_id, target_id, type, weight, direction, metadata, reinforced_count, last_activated, created_at`

func scanSynapse(row interface{ Scan(...any) error }) (*neural.Synapse, error) {
	var (
		syn           neural.Synapse
		typ, dir      string
		metadata      string
		lastActivated sql.NullString
		createdAt     string
	)
	if err := row.Scan(&syn.ID, &syn.SourceID, &syn.TargetID, &typ, &syn.Weight,
		&dir, &metadata, &syn.ReinforcedCount, &lastActivated, &createdAt); err != nil {
		return nil, err
	}
	syn.Type = neural.SynapseType(typ)
	syn.Direction = neural.Direction(dir)
	syn.Metadata = unmarshalMap(metadata)
	syn.LastActivated = parseTimePtr(lastActivated)
	syn.CreatedAt = parseTime(createdAt)
	return &syn, nil
}

func (s *SQLiteStore) GetSynapse(ctx context.Context, id string) (*neural.Synapse, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+synapseCols+` FROM synapses WHERE id = ?`, id)
	syn, err := scanSynapse(row)
	if err == sql.ErrNoRows {
		return nil, ErrSynapseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get synapse %s: %w", id, err)
	}
	return syn, nil
}

func (s *SQLiteStore) GetSynapseBetween(ctx context.Context, sourceID, targetID string) (*neural.Synapse, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+synapseCols+` FROM synapses
		WHERE (source_id = ? AND target_id = ?)
		   OR (direction = 'bi' AND source_id = ? AND target_id = ?)
		LIMIT 1`,
		sourceID, targetID, targetID, sourceID)
	syn, err := scanSynapse(row)
	if err == sql.ErrNoRows {
		return nil, ErrSynapseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get synapse between: %w", err)
	}
	return syn, nil
}

func (s *SQLiteStore) SynapsesForNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Synapse, error) {
	if len(neuronIDs) == 0 {
		return nil, nil
	}
	ph := placeholders(len(neuronIDs))
	q := `SELECT ` + synapseCols + ` FROM synapses
		WHERE source_id IN (` + ph + `) OR target_id IN (` + ph + `) ORDER BY id`
	args := append(toAny(neuronIDs), toAny(neuronIDs)...)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("synapses for neurons: %w", err)
	}
	defer rows.Close()

	var out []*neural.Synapse
	for rows.Next() {
		syn, err := scanSynapse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AllSynapses(ctx context.Context) ([]*neural.Synapse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+synapseCols+` FROM synapses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all synapses: %w", err)
	}
	defer rows.Close()
	var out []*neural.Synapse
	for rows.Next() {
		syn, err := scanSynapse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSynapse(ctx context.Context, update SynapseUpdate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.execSynapseUpdate(ctx, s.db, update)
}

// execSynapseUpdate keeps reinforced_count monotonic and last_activated
// forward-only at the SQL level.
func (s *SQLiteStore) execSynapseUpdate(ctx context.Context, ex execer, update SynapseUpdate) error {
	res, err := ex.ExecContext(ctx, `UPDATE synapses SET
			weight = ?,
			reinforced_count = MAX(reinforced_count, ?),
			last_activated = CASE
				WHEN last_activated IS NULL OR last_activated < ? THEN ?
				ELSE last_activated
			END
		WHERE id = ?`,
		update.Weight, update.ReinforcedCount,
		formatTime(update.LastActivated), formatTime(update.LastActivated),
		update.SynapseID)
	if err != nil {
		return fmt.Errorf("update synapse %s: %w", update.SynapseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSynapseNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateSynapseMetadata(ctx context.Context, id string, metadata map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	syn, err := s.GetSynapse(ctx, id)
	if err != nil {
		return err
	}
	if syn.Metadata == nil {
		syn.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		syn.Metadata[k] = v
	}
	_, err = s.db.ExecContext(ctx, `UPDATE synapses SET metadata = ? WHERE id = ?`,
		marshalMap(syn.Metadata), id)
	if err != nil {
		return fmt.Errorf("update synapse metadata %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSynapses(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM synapses WHERE id IN (`+placeholders(len(ids))+`)`, toAny(ids)...)
	if err != nil {
		return fmt.Errorf("delete synapses: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddFiber(ctx context.Context, f *neural.Fiber) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.insertFiber(ctx, tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertFiber(ctx context.Context, tx *sql.Tx, f *neural.Fiber) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO fibers
		(id, anchor_neuron_id, pathway, conductivity, last_conducted, summary,
		 salience, auto_tags, agent_tags, frequency, time_start, time_end, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			anchor_neuron_id = excluded.anchor_neuron_id,
			pathway = excluded.pathway,
			conductivity = excluded.conductivity,
			last_conducted = excluded.last_conducted,
			summary = excluded.summary,
			salience = excluded.salience,
			auto_tags = excluded.auto_tags,
			agent_tags = excluded.agent_tags,
			frequency = excluded.frequency,
			time_start = excluded.time_start,
			time_end = excluded.time_end,
			metadata = excluded.metadata`,
		f.ID, f.AnchorNeuronID, marshalStrings(f.Pathway), f.Conductivity,
		formatTimePtr(f.LastConducted), f.Summary, f.Salience,
		marshalStrings(sortedSet(f.AutoTags)), marshalStrings(sortedSet(f.AgentTags)),
		f.Frequency, formatTimePtr(f.TimeStart), formatTimePtr(f.TimeEnd),
		marshalMap(f.Metadata), formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert fiber %s: %w", f.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fiber_neurons WHERE fiber_id = ?`, f.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fiber_synapses WHERE fiber_id = ?`, f.ID); err != nil {
		return err
	}
	for id := range f.NeuronIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO fiber_neurons (fiber_id, neuron_id) VALUES (?, ?)`, f.ID, id); err != nil {
			return err
		}
	}
	for id := range f.SynapseIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO fiber_synapses (fiber_id, synapse_id) VALUES (?, ?)`, f.ID, id); err != nil {
			return err
		}
	}
	return nil
}

const fiberCols = `id, anchor_neuron_id, pathway, conductivity, last_conducted, summary,
	salience, auto_tags, agent_tags, frequency, time_start, time_end, metadata, created_at`

func scanFiber(row interface{ Scan(...any) error }) (*neural.Fiber, error) {
	var (
		f                            neural.Fiber
		pathway, autoTags, agentTags string
		lastConducted, tStart, tEnd  sql.NullString
		metadata, createdAt          string
	)
	if err := row.Scan(&f.ID, &f.AnchorNeuronID, &pathway, &f.Conductivity,
		&lastConducted, &f.Summary, &f.Salience, &autoTags, &agentTags,
		&f.Frequency, &tStart, &tEnd, &metadata, &createdAt); err != nil {
		return nil, err
	}
	f.Pathway = unmarshalStrings(pathway)
	f.AutoTags = toStringSet(unmarshalStrings(autoTags))
	f.AgentTags = toStringSet(unmarshalStrings(agentTags))
	f.LastConducted = parseTimePtr(lastConducted)
	f.TimeStart = parseTimePtr(tStart)
	f.TimeEnd = parseTimePtr(tEnd)
	f.Metadata = unmarshalMap(metadata)
	f.CreatedAt = parseTime(createdAt)
	f.NeuronIDs = make(map[string]struct{})
	f.SynapseIDs = make(map[string]struct{})
	return &f, nil
}

// loadFiberMembers fills the neuron and synapse id sets of the fibers.
func (s *SQLiteStore) loadFiberMembers(ctx context.Context, fibers map[string]*neural.Fiber) error {
	if len(fibers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(fibers))
	for id := range fibers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows, err := s.db.QueryContext(ctx,
		`SELECT fiber_id, neuron_id FROM fiber_neurons WHERE fiber_id IN (`+placeholders(len(ids))+`)`,
		toAny(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fiberID, neuronID string
		if err := rows.Scan(&fiberID, &neuronID); err != nil {
			return err
		}
		fibers[fiberID].NeuronIDs[neuronID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	srows, err := s.db.QueryContext(ctx,
		`SELECT fiber_id, synapse_id FROM fiber_synapses WHERE fiber_id IN (`+placeholders(len(ids))+`)`,
		toAny(ids)...)
	if err != nil {
		return err
	}
	defer srows.Close()
	for srows.Next() {
		var fiberID, synapseID string
		if err := srows.Scan(&fiberID, &synapseID); err != nil {
			return err
		}
		fibers[fiberID].SynapseIDs[synapseID] = struct{}{}
	}
	return srows.Err()
}

func (s *SQLiteStore) GetFiber(ctx context.Context, id string) (*neural.Fiber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fiberCols+` FROM fibers WHERE id = ?`, id)
	f, err := scanFiber(row)
	if err == sql.ErrNoRows {
		return nil, ErrFiberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fiber %s: %w", id, err)
	}
	if err := s.loadFiberMembers(ctx, map[string]*neural.Fiber{f.ID: f}); err != nil {
		return nil, err
	}
	return f, nil
}

// FindFibersByNeurons resolves every fiber containing any of the neurons
// with a single membership query.
func (s *SQLiteStore) FindFibersByNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Fiber, error) {
	if len(neuronIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + fiberCols + ` FROM fibers WHERE id IN (
		SELECT DISTINCT fiber_id FROM fiber_neurons WHERE neuron_id IN (` + placeholders(len(neuronIDs)) + `)
	) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, toAny(neuronIDs)...)
	if err != nil {
		return nil, fmt.Errorf("find fibers by neurons: %w", err)
	}
	defer rows.Close()
	return s.collectFibers(ctx, rows)
}

func (s *SQLiteStore) collectFibers(ctx context.Context, rows *sql.Rows) ([]*neural.Fiber, error) {
	byID := make(map[string]*neural.Fiber)
	var order []string
	for rows.Next() {
		f, err := scanFiber(rows)
		if err != nil {
			return nil, err
		}
		byID[f.ID] = f
		order = append(order, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadFiberMembers(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]*neural.Fiber, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func (s *SQLiteStore) ListFibersByTag(ctx context.Context, tag string) ([]*neural.Fiber, error) {
	g, err := glob.Compile(tag)
	if err != nil {
		return nil, fmt.Errorf("compile tag glob %q: %w", tag, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fiberCols+` FROM fibers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list fibers by tag: %w", err)
	}
	defer rows.Close()

	all, err := s.collectFibers(ctx, rows)
	if err != nil {
		return nil, err
	}
	var out []*neural.Fiber
	for _, f := range all {
		for t := range f.Tags() {
			if g.Match(t) {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

func (s *SQLiteStore) AllFibers(ctx context.Context) ([]*neural.Fiber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fiberCols+` FROM fibers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all fibers: %w", err)
	}
	defer rows.Close()
	return s.collectFibers(ctx, rows)
}

func (s *SQLiteStore) UpdateFiber(ctx context.Context, f *neural.Fiber) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fibers WHERE id = ?`, f.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrFiberNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.insertFiber(ctx, tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteFibers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ph := placeholders(len(ids))
	for _, q := range []string{
		`DELETE FROM maturations WHERE fiber_id IN (` + ph + `)`,
		`DELETE FROM fiber_neurons WHERE fiber_id IN (` + ph + `)`,
		`DELETE FROM fiber_synapses WHERE fiber_id IN (` + ph + `)`,
		`DELETE FROM fibers WHERE id IN (` + ph + `)`,
	} {
		if _, err := tx.ExecContext(ctx, q, toAny(ids)...); err != nil {
			return fmt.Errorf("delete fibers: %w", err)
		}
	}
	return tx.Commit()
}

const stateCols = `neuron_id, activation_level, access_frequency, last_activated,
	decay_rate, firing_threshold, refractory_until, refractory_period_ms,
	homeostatic_target, created_at`

func scanState(row interface{ Scan(...any) error }) (*neural.NeuronState, error) {
	var (
		st                        neural.NeuronState
		lastActivated, refractory sql.NullString
		refractoryMs              int64
		createdAt                 string
	)
	if err := row.Scan(&st.NeuronID, &st.ActivationLevel, &st.AccessFrequency,
		&lastActivated, &st.DecayRate, &st.FiringThreshold, &refractory,
		&refractoryMs, &st.HomeostaticTarget, &createdAt); err != nil {
		return nil, err
	}
	st.LastActivated = parseTimePtr(lastActivated)
	st.RefractoryUntil = parseTimePtr(refractory)
	st.RefractoryPeriod = time.Duration(refractoryMs) * time.Millisecond
	st.CreatedAt = parseTime(createdAt)
	return &st, nil
}

func (s *SQLiteStore) GetStates(ctx context.Context, neuronIDs []string) (map[string]*neural.NeuronState, error) {
	out := make(map[string]*neural.NeuronState, len(neuronIDs))
	if len(neuronIDs) == 0 {
		return out, nil
	}
	q := `SELECT ` + stateCols + ` FROM neuron_states WHERE neuron_id IN (` + placeholders(len(neuronIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, q, toAny(neuronIDs)...)
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out[st.NeuronID] = st
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AllStates(ctx context.Context) ([]*neural.NeuronState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateCols+` FROM neuron_states ORDER BY neuron_id`)
	if err != nil {
		return nil, fmt.Errorf("all states: %w", err)
	}
	defer rows.Close()
	var out []*neural.NeuronState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertStates(ctx context.Context, states []*neural.NeuronState) error {
	if len(states) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.upsertStatesTx(ctx, tx, states); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) upsertStatesTx(ctx context.Context, tx *sql.Tx, states []*neural.NeuronState) error {
	for _, st := range states {
		_, err := tx.ExecContext(ctx, `INSERT INTO neuron_states
			(neuron_id, activation_level, access_frequency, last_activated,
			 decay_rate, firing_threshold, refractory_until, refractory_period_ms,
			 homeostatic_target, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(neuron_id) DO UPDATE SET
				activation_level = excluded.activation_level,
				access_frequency = excluded.access_frequency,
				last_activated = excluded.last_activated,
				decay_rate = excluded.decay_rate,
				firing_threshold = excluded.firing_threshold,
				refractory_until = excluded.refractory_until,
				refractory_period_ms = excluded.refractory_period_ms,
				homeostatic_target = excluded.homeostatic_target`,
			st.NeuronID, st.ActivationLevel, st.AccessFrequency,
			formatTimePtr(st.LastActivated), st.DecayRate, st.FiringThreshold,
			formatTimePtr(st.RefractoryUntil), st.RefractoryPeriod.Milliseconds(),
			st.HomeostaticTarget, formatTime(st.CreatedAt))
		if err != nil {
			return fmt.Errorf("upsert state %s: %w", st.NeuronID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveMaturation(ctx context.Context, m *neural.Maturation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertMaturation(ctx, s.db, m)
}

func (s *SQLiteStore) insertMaturation(ctx context.Context, ex execer, m *neural.Maturation) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO maturations
		(fiber_id, stage, reinforcement_count, reinforcement_days, stage_entered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fiber_id) DO UPDATE SET
			stage = excluded.stage,
			reinforcement_count = excluded.reinforcement_count,
			reinforcement_days = excluded.reinforcement_days,
			stage_entered_at = excluded.stage_entered_at`,
		m.FiberID, string(m.Stage), m.ReinforcementCount,
		marshalStrings(sortedSet(m.ReinforcementDays)),
		formatTime(m.StageEnteredAt), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save maturation %s: %w", m.FiberID, err)
	}
	return nil
}

const maturationCols = `fiber_id, stage, reinforcement_count, reinforcement_days, stage_entered_at, created_at`

func scanMaturation(row interface{ Scan(...any) error }) (*neural.Maturation, error) {
	var (
		m                         neural.Maturation
		stage, days               string
		stageEnteredAt, createdAt string
	)
	if err := row.Scan(&m.FiberID, &stage, &m.ReinforcementCount, &days,
		&stageEnteredAt, &createdAt); err != nil {
		return nil, err
	}
	m.Stage = neural.Stage(stage)
	m.ReinforcementDays = toStringSet(unmarshalStrings(days))
	m.StageEnteredAt = parseTime(stageEnteredAt)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *SQLiteStore) GetMaturation(ctx context.Context, fiberID string) (*neural.Maturation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+maturationCols+` FROM maturations WHERE fiber_id = ?`, fiberID)
	m, err := scanMaturation(row)
	if err == sql.ErrNoRows {
		return nil, ErrMaturationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get maturation %s: %w", fiberID, err)
	}
	return m, nil
}

func (s *SQLiteStore) FindMaturationsByStage(ctx context.Context, stage neural.Stage) ([]*neural.Maturation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+maturationCols+` FROM maturations WHERE stage = ? ORDER BY fiber_id`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("find maturations by stage: %w", err)
	}
	defer rows.Close()
	var out []*neural.Maturation
	for rows.Next() {
		m, err := scanMaturation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordCoActivations(ctx context.Context, events []CoActivationEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.insertCoActivations(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertCoActivations(ctx context.Context, ex execer, events []CoActivationEvent) error {
	for _, e := range events {
		canonical := NewCoActivationEvent(e.NeuronA, e.NeuronB, e.OccurredAt)
		if canonical.NeuronA == canonical.NeuronB {
			continue
		}
		if _, err := ex.ExecContext(ctx,
			`INSERT INTO co_activations (neuron_a, neuron_b, occurred_at) VALUES (?, ?, ?)`,
			canonical.NeuronA, canonical.NeuronB, formatTime(canonical.OccurredAt)); err != nil {
			return fmt.Errorf("record co-activation: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CoActivationCounts(ctx context.Context, since time.Time) (map[Pair]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT neuron_a, neuron_b, COUNT(*) FROM co_activations
		 WHERE occurred_at >= ? GROUP BY neuron_a, neuron_b`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("co-activation counts: %w", err)
	}
	defer rows.Close()
	out := make(map[Pair]int)
	for rows.Next() {
		var p Pair
		var count int
		if err := rows.Scan(&p.A, &p.B, &count); err != nil {
			return nil, err
		}
		out[p] = count
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneCoActivations(ctx context.Context, before time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM co_activations WHERE occurred_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune co-activations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) AppendActionEvent(ctx context.Context, event ActionEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_events (session_id, action, tags, occurred_at) VALUES (?, ?, ?, ?)`,
		event.SessionID, event.Action, marshalStrings(event.Tags), formatTime(event.OccurredAt))
	if err != nil {
		return fmt.Errorf("append action event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ActionSequences(ctx context.Context, since time.Time) (map[string][]ActionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, action, tags, occurred_at FROM action_events
		 WHERE occurred_at >= ? ORDER BY session_id, occurred_at`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("action sequences: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]ActionEvent)
	for rows.Next() {
		var (
			e          ActionEvent
			tags       string
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Action, &tags, &occurredAt); err != nil {
			return nil, err
		}
		e.Tags = unmarshalStrings(tags)
		e.OccurredAt = parseTime(occurredAt)
		out[e.SessionID] = append(out[e.SessionID], e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneActionEvents(ctx context.Context, before time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM action_events WHERE occurred_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune action events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ApplyEncode writes the full encode mutation in one transaction: a
// concurrent reader sees either the whole memory or none of it.
func (s *SQLiteStore) ApplyEncode(ctx context.Context, mutation *EncodeMutation) error {
	if mutation == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, n := range mutation.Neurons {
		if err := s.insertNeuron(ctx, tx, n); err != nil {
			return err
		}
	}
	if err := s.upsertStatesTx(ctx, tx, mutation.States); err != nil {
		return err
	}
	for _, syn := range mutation.Synapses {
		if err := s.insertSynapse(ctx, tx, syn); err != nil {
			return err
		}
	}
	if mutation.Fiber != nil {
		if err := s.insertFiber(ctx, tx, mutation.Fiber); err != nil {
			return err
		}
	}
	if mutation.Maturation != nil {
		if err := s.insertMaturation(ctx, tx, mutation.Maturation); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Index only after commit so a rolled-back encode leaves no trace.
	for _, n := range mutation.Neurons {
		s.indexNeuron(n)
	}
	return nil
}

// ApplyDeferred flushes a retrieval's deferred batch in one transaction.
func (s *SQLiteStore) ApplyDeferred(ctx context.Context, batch *DeferredBatch) error {
	if batch.Empty() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, syn := range batch.NewSynapses {
		if err := s.insertSynapse(ctx, tx, syn); err != nil {
			return err
		}
	}
	for _, u := range batch.SynapseUpdates {
		if err := s.execSynapseUpdate(ctx, tx, u); err != nil && err != ErrSynapseNotFound {
			return err
		}
	}
	for _, b := range batch.ConductivityBumps {
		if _, err := tx.ExecContext(ctx, `UPDATE fibers SET
				conductivity = MIN(1.0, conductivity + ?),
				last_conducted = ?,
				frequency = frequency + 1
			WHERE id = ?`,
			b.Delta, formatTime(b.ConductedAt), b.FiberID); err != nil {
			return fmt.Errorf("bump conductivity %s: %w", b.FiberID, err)
		}
	}
	for _, id := range batch.FrequencyBumps {
		if _, err := tx.ExecContext(ctx,
			`UPDATE fibers SET frequency = frequency + 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("bump frequency %s: %w", id, err)
		}
	}
	if err := s.insertCoActivations(ctx, tx, batch.CoActivations); err != nil {
		return err
	}
	if err := s.upsertStatesTx(ctx, tx, batch.StateUpserts); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveBrain(ctx context.Context, b *neural.Brain) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	config, err := json.Marshal(b.Config)
	if err != nil {
		return fmt.Errorf("marshal brain config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO brain (id, name, config, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, config = excluded.config`,
		b.ID, b.Name, string(config), formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save brain: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBrain(ctx context.Context) (*neural.Brain, error) {
	var (
		b         neural.Brain
		config    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, config, created_at FROM brain LIMIT 1`).
		Scan(&b.ID, &b.Name, &config, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrBrainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brain: %w", err)
	}
	if err := json.Unmarshal([]byte(config), &b.Config); err != nil {
		return nil, fmt.Errorf("unmarshal brain config: %w", err)
	}
	b.Config.Normalize()
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		NeuronsByType: make(map[string]int),
		FibersByStage: make(map[string]int),
	}

	counts := map[string]*int{
		`SELECT COUNT(*) FROM neurons`:        &stats.Neurons,
		`SELECT COUNT(*) FROM synapses`:       &stats.Synapses,
		`SELECT COUNT(*) FROM fibers`:         &stats.Fibers,
		`SELECT COUNT(*) FROM co_activations`: &stats.CoActivations,
	}
	for q, dst := range counts {
		if err := s.db.QueryRowContext(ctx, q).Scan(dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM neurons GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats.NeuronsByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx, `SELECT `+maturationCols+` FROM maturations`)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()
	now := time.Now().UTC()
	for mrows.Next() {
		m, err := scanMaturation(mrows)
		if err != nil {
			return nil, err
		}
		stats.FibersByStage[string(m.Stage)]++
		if m.ReviewDue(now) {
			stats.ReviewsDue++
		}
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	var avgWeight, avgActivation sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(weight) FROM synapses`).Scan(&avgWeight); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(activation_level) FROM neuron_states`).Scan(&avgActivation); err != nil {
		return nil, err
	}
	stats.AvgWeight = avgWeight.Float64
	stats.AvgActivation = avgActivation.Float64

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version
	return stats, nil
}

func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

func (s *SQLiteStore) Close() error {
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Warn("close content index", "error", err)
		}
	}
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// timeLayout keeps a fixed-width fraction so stored timestamps compare
// chronologically as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func marshalMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(s string) map[string]any {
	if s == "" || s == "{}" {
		return make(map[string]any)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return make(map[string]any)
	}
	return m
}

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func sortedSet(set map[string]struct{}) []string {
	out := neural.SetSlice(set)
	sort.Strings(out)
	return out
}

func toStringSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}
