package bdd

import (
	"context"
	"errors"
	"fmt"

	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresTestDB implements cucumber.TestDB for Postgres.
type PostgresTestDB struct {
	DBURL string
}

var _ cucumber.TestDB = (*PostgresTestDB)(nil)

func (p *PostgresTestDB) conn(ctx context.Context) (*pgx.Conn, error) {
	return pgx.Connect(ctx, p.DBURL)
}

func (p *PostgresTestDB) ClearAll(ctx context.Context) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: failed to connect: %w", err)
	}
	defer conn.Close(ctx)

	// One statement so branch rows referencing their parent go together.
	if _, err := conn.Exec(ctx, "TRUNCATE messages, conversations, users"); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil
		}
		return fmt.Errorf("cleanup: failed to truncate tables: %w", err)
	}
	return nil
}

func (p *PostgresTestDB) MessageCount(ctx context.Context, conversationID string) (int, error) {
	conn, err := p.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close(ctx)

	var stored, counted int
	err = conn.QueryRow(ctx,
		`SELECT c.message_count, (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		 FROM conversations c WHERE c.id = $1::uuid`, conversationID).Scan(&stored, &counted)
	if err != nil {
		return 0, fmt.Errorf("count messages of %s: %w", conversationID, err)
	}
	if stored != counted {
		return 0, fmt.Errorf("conversation %s: message_count is %d but %d message rows exist", conversationID, stored, counted)
	}
	return counted, nil
}
