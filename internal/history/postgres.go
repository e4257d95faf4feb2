package history

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/antoniostano/pitchcoach/internal/feedback"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const conversationColumns = `id, user_id, title, scenario, messages, score, feedback, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, c Conversation) (Conversation, error) {
	c, err := normalize(c, time.Now().UTC())
	if err != nil {
		return Conversation{}, err
	}
	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return Conversation{}, fmt.Errorf("encode messages: %w", err)
	}
	var fb []byte
	if c.Feedback != nil {
		if fb, err = json.Marshal(c.Feedback); err != nil {
			return Conversation{}, fmt.Errorf("encode feedback: %w", err)
		}
	}

	// A row owned by another user is left untouched and reported as not found.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			messages = EXCLUDED.messages,
			score = COALESCE(EXCLUDED.score, conversations.score),
			feedback = COALESCE(EXCLUDED.feedback, conversations.feedback),
			updated_at = EXCLUDED.updated_at
		 WHERE conversations.user_id = EXCLUDED.user_id
		 RETURNING `+conversationColumns,
		c.ID,
		c.UserID,
		c.Title,
		c.ScenarioID,
		messages,
		c.Score,
		fb,
		c.CreatedAt,
		c.UpdatedAt,
	)
	saved, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id=$1 AND user_id=$2`,
		id,
		userID,
	)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id=$1 ORDER BY updated_at DESC, created_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0, limit)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Latest(ctx context.Context, userID string) (Conversation, error) {
	items, err := s.List(ctx, userID, 1)
	if err != nil {
		return Conversation{}, err
	}
	if len(items) == 0 {
		return Conversation{}, ErrNotFound
	}
	return items[0], nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c        Conversation
		messages []byte
		fb       []byte
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.ScenarioID, &messages, &c.Score, &fb, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &c.Messages); err != nil {
			return Conversation{}, fmt.Errorf("decode messages: %w", err)
		}
	}
	if len(fb) > 0 {
		var decoded feedback.Feedback
		if err := json.Unmarshal(fb, &decoded); err != nil {
			return Conversation{}, fmt.Errorf("decode feedback: %w", err)
		}
		c.Feedback = &decoded
	}
	return c, nil
}
