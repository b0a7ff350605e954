// Package store is the gateway's Postgres layer: conversation snapshots,
// caller memory, call summaries, and the pgvector-backed knowledge base.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded migrations. Called from main when
// VOCALIS_GATEWAY_MIGRATE is set.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

type Conversation struct {
	SessionID string          `json:"session_id"`
	Messages  json.RawMessage `json:"messages"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertConversation replaces the transcript snapshot for a session.
func (s *Store) UpsertConversation(ctx context.Context, sessionID string, messages json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (session_id, messages, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id)
		DO UPDATE SET messages = EXCLUDED.messages, updated_at = now()`,
		sessionID, messages)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// RecentConversations returns the most recently updated conversations.
func (s *Store) RecentConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, messages, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.SessionID, &c.Messages, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type Caller struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) GetCaller(ctx context.Context, email string) (*Caller, error) {
	var c Caller
	err := s.pool.QueryRow(ctx, `
		SELECT email, name, company, updated_at
		FROM callers WHERE email = $1`, email).
		Scan(&c.Email, &c.Name, &c.Company, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get caller: %w", err)
	}
	return &c, nil
}

func (s *Store) UpsertCaller(ctx context.Context, email, name, company string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO callers (email, name, company, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (email)
		DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), callers.name),
			company = COALESCE(NULLIF(EXCLUDED.company, ''), callers.company),
			updated_at = now()`,
		email, name, company)
	if err != nil {
		return fmt.Errorf("upsert caller: %w", err)
	}
	return nil
}

type CallSummary struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) InsertCallSummary(ctx context.Context, email, sessionID, summary string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_summaries (caller_email, session_id, summary)
		VALUES ($1, $2, $3)`,
		email, sessionID, summary)
	if err != nil {
		return fmt.Errorf("insert call summary: %w", err)
	}
	return nil
}

// RecentCallSummaries returns the caller's most recent call summaries,
// newest first.
func (s *Store) RecentCallSummaries(ctx context.Context, email string, limit int) ([]CallSummary, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, summary, created_at
		FROM call_summaries
		WHERE caller_email = $1
		ORDER BY created_at DESC
		LIMIT $2`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("list call summaries: %w", err)
	}
	defer rows.Close()

	var out []CallSummary
	for rows.Next() {
		var cs CallSummary
		if err := rows.Scan(&cs.SessionID, &cs.Summary, &cs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call summary: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

type KnowledgeMatch struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchKnowledge runs a cosine-similarity match against the knowledge base.
// Results below the threshold are excluded.
func (s *Store) SearchKnowledge(ctx context.Context, embedding []float32, threshold float64, limit int) ([]KnowledgeMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT content, 1 - (embedding <=> $1::vector) AS score
		FROM knowledge
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		vectorLiteral(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeMatch
	for rows.Next() {
		var m KnowledgeMatch
		if err := rows.Scan(&m.Content, &m.Score); err != nil {
			return nil, fmt.Errorf("scan knowledge match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddKnowledge inserts one knowledge chunk with its embedding.
func (s *Store) AddKnowledge(ctx context.Context, content string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge (content, embedding) VALUES ($1, $2::vector)`,
		content, vectorLiteral(embedding))
	if err != nil {
		return fmt.Errorf("add knowledge: %w", err)
	}
	return nil
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
