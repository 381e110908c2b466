// Package registry implements the Content-Addressed Registry (C4): the
// storage, versioning, and provenance logic over tools, including fork
// lineage, telemetry aggregation, and delisting.
package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentevolution/agentevolution/internal/canon"
	"github.com/agentevolution/agentevolution/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// Store is the SQLite-backed registry. Mutating operations are serialized
// per tool id; reads proceed concurrently against the connection pool.
type Store struct {
	db     *sql.DB
	signer *signer

	rowLocksMu sync.Mutex
	rowLocks   map[string]*sync.Mutex
}

// Open creates or opens the registry database at path, applying the schema
// and enabling WAL mode, a busy timeout, and foreign-key enforcement.
func Open(path string, signingSecret []byte) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "opening registry database")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "configuring registry database: "+pragma)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.CodeStoreCorrupt, "applying registry schema")
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		signer:   newSigner(signingSecret),
		rowLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.rowLocksMu.Lock()
	defer s.rowLocksMu.Unlock()
	m, ok := s.rowLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[id] = m
	}
	return m
}

// Insert creates a root tool (no parent). It fails with CodeDuplicate if an
// active tool already shares the canonicalized content hash (I2).
func (s *Store) Insert(ctx context.Context, input NewToolInput, approved bool) (*Tool, error) {
	return s.insert(ctx, input, "", approved)
}

// Fork creates a tool whose lineage extends parentID. The parent must exist
// and must not be delisted.
func (s *Store) Fork(ctx context.Context, parentID string, input NewToolInput, approved bool) (*Tool, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Delisted {
		return nil, errs.New(errs.CodeParentDelisted, "parent tool is delisted")
	}
	return s.insert(ctx, input, parentID, approved)
}

func (s *Store) insert(ctx context.Context, input NewToolInput, parentID string, approved bool) (*Tool, error) {
	contentHash := canon.ContentHash(input.Code, input.TestCase)

	// Duplicate-content check and write happen inside one lock scope keyed
	// by content hash, so two concurrent submissions of the
	// same artifact cannot both observe "no duplicate" and both insert.
	lock := s.lockFor("content:" + contentHash)
	lock.Lock()
	defer lock.Unlock()

	if existingID, err := s.activeIDForHash(ctx, contentHash); err != nil {
		return nil, err
	} else if existingID != "" {
		return nil, errs.New(errs.CodeDuplicate, "tool with identical content already registered").
			WithContext("existing_id", existingID)
	}

	now := time.Now().UTC()
	id := newToolID(now)

	version := 1
	lineageRoot := id
	if parentID != "" {
		parent, err := s.Get(ctx, parentID)
		if err != nil {
			return nil, err
		}
		version = parent.Version + 1
		lineageRoot = parent.LineageRootID
	}

	trustLevel := TrustSubmitted
	if approved {
		trustLevel = TrustVerified
	}

	sig, err := s.signer.sign(id, contentHash, version, now)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "signing tool record")
	}

	var parentArg any
	if parentID != "" {
		parentArg = parentID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "beginning insert transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tools (
			id, name, description, intent, code, test_case, input_schema, tags,
			author_agent_id, version, parent_tool_id, lineage_root_id,
			content_hash, signature, trust_level, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, input.Name, input.Description, input.Intent, input.Code, input.TestCase,
		input.InputSchema, strings.Join(input.Tags, ","), input.AuthorAgentID, version,
		parentArg, lineageRoot, contentHash, sig, int(trustLevel), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "inserting tool record")
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "committing insert transaction")
	}

	return s.Get(ctx, id)
}

func (s *Store) activeIDForHash(ctx context.Context, contentHash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM tools WHERE content_hash = ? AND delisted = 0 LIMIT 1`, contentHash,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errs.Wrap(err, errs.CodeStoreUnavailable, "checking content hash uniqueness")
	}
	return id, nil
}

// Get returns the tool by id, including delisted tools (provenance remains
// queryable).
func (s *Store) Get(ctx context.Context, id string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, intent, code, test_case, input_schema, tags,
			author_agent_id, version, COALESCE(parent_tool_id, ''), lineage_root_id,
			content_hash, signature, trust_level, created_at,
			total_uses, successful_uses, unique_agents, avg_execution_time_ms,
			fitness_score, delisted, delist_reason, consecutive_low_fitness
		FROM tools WHERE id = ?`, id)
	tool, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodeNotFound, "tool not found").WithContext("id", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "reading tool")
	}
	return tool, nil
}

// Provenance returns the root-to-self chain for id.
func (s *Store) Provenance(ctx context.Context, id string) ([]*Tool, error) {
	var chain []*Tool
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chain = append(chain, cur)

	// The chain is finite and acyclic by construction (I4): each fork points
	// to a strictly earlier tool, so this loop always terminates.
	for cur.ParentToolID != "" {
		parent, err := s.Get(ctx, cur.ParentToolID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent)
		cur = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// List returns tools matching filter, excluding delisted tools unless
// filter.IncludeDelisted is set.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Tool, error) {
	query := `
		SELECT id, name, description, intent, code, test_case, input_schema, tags,
			author_agent_id, version, COALESCE(parent_tool_id, ''), lineage_root_id,
			content_hash, signature, trust_level, created_at,
			total_uses, successful_uses, unique_agents, avg_execution_time_ms,
			fitness_score, delisted, delist_reason, consecutive_low_fitness
		FROM tools WHERE 1=1`
	var args []any

	if !filter.IncludeDelisted {
		query += " AND delisted = 0"
	}
	if filter.MinFitness > 0 {
		query += " AND fitness_score >= ?"
		args = append(args, filter.MinFitness)
	}
	if filter.MinTrustLevel != nil {
		query += " AND trust_level >= ?"
		args = append(args, int(*filter.MinTrustLevel))
	}
	if filter.Author != "" {
		query += " AND author_agent_id = ?"
		args = append(args, filter.Author)
	}
	if filter.Tag != "" {
		query += " AND (',' || tags || ',') LIKE ?"
		args = append(args, "%,"+filter.Tag+",%")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "listing tools")
	}
	defer rows.Close()

	var tools []*Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "scanning tool row")
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// RecordUsage appends a usage observation and updates the tool's telemetry
// aggregates atomically. Reports are keyed by (tool_id, agent_id,
// timestamp); re-applying an identical report is a silent no-op.
func (s *Store) RecordUsage(ctx context.Context, report UsageReport) (*Tool, error) {
	lock := s.lockFor(report.ToolID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "beginning usage transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_events (tool_id, agent_id, success, execution_time_ms, tokens_used, reported_at)
		VALUES (?,?,?,?,?,?)`,
		report.ToolID, report.AgentID, boolToInt(report.Success), report.ExecutionTimeMS,
		report.TokensUsed, report.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "inserting usage event")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Duplicate report: idempotent no-op.
		tx.Rollback()
		return s.Get(ctx, report.ToolID)
	}

	var totalUses, successfulUses, uniqueAgents int
	var avgMS float64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0), COUNT(DISTINCT agent_id), COALESCE(AVG(execution_time_ms), 0)
		FROM usage_events WHERE tool_id = ?`, report.ToolID,
	).Scan(&totalUses, &successfulUses, &uniqueAgents, &avgMS)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "aggregating usage telemetry")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tools SET total_uses = ?, successful_uses = ?, unique_agents = ?, avg_execution_time_ms = ?
		WHERE id = ?`, totalUses, successfulUses, uniqueAgents, avgMS, report.ToolID)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "updating tool telemetry")
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "committing usage transaction")
	}

	return s.Get(ctx, report.ToolID)
}

// UpdateFitness persists a freshly computed fitness score and tracks the
// consecutive-low-fitness streak the Fitness Engine's delisting policy
// depends on.
func (s *Store) UpdateFitness(ctx context.Context, id string, fitness float64, belowFloor bool) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if belowFloor {
		_, err := s.db.ExecContext(ctx,
			`UPDATE tools SET fitness_score = ?, consecutive_low_fitness = consecutive_low_fitness + 1 WHERE id = ?`,
			fitness, id)
		return wrapStoreErr(err, "updating fitness score")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tools SET fitness_score = ?, consecutive_low_fitness = 0 WHERE id = ?`, fitness, id)
	return wrapStoreErr(err, "updating fitness score")
}

// EscalateTrust advances a tool from Verified to BattleTested. It is a
// no-op if the tool is not currently Verified, preserving the one-way
// escalation invariant.
func (s *Store) EscalateTrust(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tools SET trust_level = ? WHERE id = ? AND trust_level = ?`,
		int(TrustBattleTested), id, int(TrustVerified))
	return wrapStoreErr(err, "escalating trust level")
}

// MarkDelisted marks a tool delisted. Idempotent and terminal (I6): once
// delisted, repeated calls leave the row unchanged, and no Store method
// clears the flag. RecordUsage still updates a delisted tool's telemetry.
func (s *Store) MarkDelisted(ctx context.Context, id, reason string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tools SET delisted = 1, delist_reason = ? WHERE id = ? AND delisted = 0`, reason, id)
	return wrapStoreErr(err, "marking tool delisted")
}

// TokenUsageStats reports how many usage reports for id carried a
// tokens_used value, their sum, and how many did not — letting the
// Fitness Engine distinguish "no token data at all" from "some reports
// omitted it".
func (s *Store) TokenUsageStats(ctx context.Context, id string) (reportedSum int64, reportedCount int, missingCount int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(tokens_used), 0),
			COUNT(tokens_used),
			COUNT(*) - COUNT(tokens_used)
		FROM usage_events WHERE tool_id = ?`, id)
	if scanErr := row.Scan(&reportedSum, &reportedCount, &missingCount); scanErr != nil {
		return 0, 0, 0, errs.Wrap(scanErr, errs.CodeStoreUnavailable, "reading token usage stats")
	}
	return reportedSum, reportedCount, missingCount, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (*Tool, error) {
	var t Tool
	var tags, createdAt string
	var delisted int
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Intent, &t.Code, &t.TestCase, &t.InputSchema, &tags,
		&t.AuthorAgentID, &t.Version, &t.ParentToolID, &t.LineageRootID,
		&t.ContentHash, &t.Signature, &t.TrustLevel, &createdAt,
		&t.TotalUses, &t.SuccessfulUses, &t.UniqueAgents, &t.AvgExecutionTimeMS,
		&t.FitnessScore, &delisted, &t.DelistReason, &t.ConsecutiveLowFitness,
	)
	if err != nil {
		return nil, err
	}
	if tags != "" {
		t.Tags = strings.Split(tags, ",")
	}
	t.Delisted = delisted != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func wrapStoreErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(err, errs.CodeInternal, msg)
}
