package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// PostgresCollection persists memory records in PostgreSQL using pgvector.
// Each collection is a table named memory_<collection>.
type PostgresCollection struct {
	pool *pgxpool.Pool
}

func NewPostgresCollection(ctx context.Context, databaseURL string) (*PostgresCollection, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresCollection{pool: pool}, nil
}

func tableName(collection string) (string, error) {
	if !collectionNamePattern.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	return "memory_" + collection, nil
}

func (s *PostgresCollection) Exists(ctx context.Context, name string) (bool, error) {
	table, err := tableName(name)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	return exists, nil
}

func (s *PostgresCollection) Create(ctx context.Context, name string, dimension int, distance Distance) error {
	if distance != Cosine {
		return fmt.Errorf("unsupported distance %q", distance)
	}
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}
	table, err := tableName(name)
	if err != nil {
		return err
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE %s (
			id UUID PRIMARY KEY,
			user_input TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops);`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42P07" {
				return ErrCollectionExists
			}
			return fmt.Errorf("create collection failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresCollection) Upsert(ctx context.Context, name string, records []Record) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, user_input, assistant_response, embedding)
		 VALUES ($1, $2, $3, $4::vector)
		 ON CONFLICT (id) DO UPDATE SET
		   user_input = EXCLUDED.user_input,
		   assistant_response = EXCLUDED.assistant_response,
		   embedding = EXCLUDED.embedding`, table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query, r.ID, r.Payload.UserInput, r.Payload.AssistantResponse, vectorLiteral(r.Vector))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}
	return nil
}

func (s *PostgresCollection) Search(ctx context.Context, name string, vector []float32, topK int) ([]Payload, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT user_input, assistant_response
		 FROM %s ORDER BY embedding <=> $1::vector LIMIT $2`, table),
		vectorLiteral(vector),
		topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query nearest records: %w", err)
	}
	defer rows.Close()

	items := make([]Payload, 0, topK)
	for rows.Next() {
		var p Payload
		if err := rows.Scan(&p.UserInput, &p.AssistantResponse); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return items, nil
}

func (s *PostgresCollection) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
