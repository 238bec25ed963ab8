// Package sqlite implements the core agent and chat repositories and a
// core.MemoryStore using pure-Go SQLite. Agents and chats are stored as
// JSON documents keyed by id; memory documents are scored in-process with
// the same keyword heuristic as the in-memory store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/memory"
)

// Store persists agents, chats and memory documents in one SQLite file.
type Store struct {
	db *sql.DB
}

var (
	_ core.AgentRepository = (*Store)(nil)
	_ core.ChatRepository  = (*Store)(nil)
	_ core.MemoryStore     = (*Store)(nil)
)

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables when missing.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_namespace ON memory_documents(namespace)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// LoadAgent implements core.AgentRepository.
func (s *Store) LoadAgent(ctx context.Context, id string) (*core.Agent, error) {
	var a core.Agent
	if err := s.load(ctx, "agents", id, &a); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAgentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SaveAgent implements core.AgentRepository.
func (s *Store) SaveAgent(ctx context.Context, agent *core.Agent) error {
	return s.save(ctx, "agents", agent.ID, agent)
}

// DeleteAgent implements core.AgentRepository.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	return err
}

// ListAgents implements core.AgentRepository.
func (s *Store) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*core.Agent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a core.Agent
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("sqlite: decode agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// LoadChat implements core.ChatRepository.
func (s *Store) LoadChat(ctx context.Context, id string) (*core.Chat, error) {
	var c core.Chat
	if err := s.load(ctx, "chats", id, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrChatNotFound
		}
		return nil, err
	}
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	return &c, nil
}

// SaveChat implements core.ChatRepository.
func (s *Store) SaveChat(ctx context.Context, chat *core.Chat) error {
	return s.save(ctx, "chats", chat.ID, chat)
}

// DeleteChat implements core.ChatRepository.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	return err
}

// Store implements core.MemoryStore.
func (s *Store) Store(ctx context.Context, namespace string, docs ...core.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_documents WHERE namespace = ?`, namespace).Scan(&count); err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("mem_%d", count)
		}
		count++
		md, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_documents (namespace, id, source, content, metadata) VALUES (?, ?, ?, ?, ?)`,
			namespace, d.ID, d.Source, d.Content, string(md)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search implements core.MemoryStore with keyword scoring. An empty query
// matches everything with score 1; ties keep insertion order.
func (s *Store) Search(ctx context.Context, namespace, query string, limit int) ([]core.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, content, metadata FROM memory_documents WHERE namespace = ? ORDER BY seq`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terms := memory.Terms(query)
	results := make([]core.SearchResult, 0)
	for rows.Next() {
		var (
			id, source, content string
			mdText              sql.NullString
		)
		if err := rows.Scan(&id, &source, &content, &mdText); err != nil {
			return nil, err
		}
		score := 1.0
		if len(terms) > 0 {
			score = memory.Score(terms, content)
		}
		if score == 0 {
			continue
		}
		md := map[string]any{}
		if mdText.Valid && mdText.String != "" && mdText.String != "null" {
			if err := json.Unmarshal([]byte(mdText.String), &md); err != nil {
				return nil, fmt.Errorf("sqlite: decode metadata: %w", err)
			}
		}
		md["source"] = source
		results = append(results, core.SearchResult{ID: id, Content: content, Score: score, Metadata: md})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Clear implements core.MemoryStore.
func (s *Store) Clear(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_documents WHERE namespace = ?`, namespace)
	return err
}

func (s *Store) load(ctx context.Context, table, id string, out any) error {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("sqlite: decode %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s %s: %w", table, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, string(data), time.Now().Unix())
	return err
}
