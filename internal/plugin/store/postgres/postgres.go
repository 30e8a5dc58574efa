package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/branch"
	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registrymigrate "github.com/chirino/threadflow/internal/registry/migrate"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			security.SetDBPool(0, cfg.DBMaxOpenConns)

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						security.SetDBPool(sqlDB.Stats().OpenConnections, cfg.DBMaxOpenConns)
					}
				}
			}()

			return &PostgresStore{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Datastore: "postgres", Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

// schemaSQL is idempotent; it runs on every migration.
//
//go:embed db/schema.sql
var schemaSQL string

// ForceImport can be referenced to make sure this package's init() runs.
var ForceImport = 0

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// conversationRow is the conversations table. message_count is kept in step
// with the messages table so list queries never touch message rows.
type conversationRow struct {
	ID                   uuid.UUID  `gorm:"primaryKey;type:uuid"`
	OwnerID              string     `gorm:"not null"`
	Title                string     `gorm:"not null"`
	MessageCount         int        `gorm:"not null"`
	CreatedAt            time.Time  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt            time.Time  `gorm:"not null;autoUpdateTime:false"`
	ParentConversationID *uuid.UUID `gorm:"type:uuid"`
	BranchPointMessageID *uuid.UUID `gorm:"type:uuid"`
}

func (conversationRow) TableName() string { return "conversations" }

func (r conversationRow) metadata() model.ConversationMetadata {
	return model.ConversationMetadata{
		ID:                   r.ID,
		OwnerID:              r.OwnerID,
		Title:                r.Title,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		ParentConversationID: r.ParentConversationID,
		BranchPointMessageID: r.BranchPointMessageID,
		MessageCount:         r.MessageCount,
	}
}

type messageRow struct {
	ConversationID uuid.UUID `gorm:"primaryKey;type:uuid"`
	Seq            int       `gorm:"primaryKey"`
	MessageID      uuid.UUID `gorm:"type:uuid;not null"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false"`
}

func (messageRow) TableName() string { return "messages" }

func messageRows(conversationID uuid.UUID, firstSeq int, msgs []model.Message) []messageRow {
	rows := make([]messageRow, len(msgs))
	for i, m := range msgs {
		rows[i] = messageRow{
			ConversationID: conversationID,
			Seq:            firstSeq + i,
			MessageID:      m.ID,
			Role:           string(m.Role),
			Content:        m.Content,
			CreatedAt:      m.Timestamp.UTC().Truncate(time.Microsecond),
		}
	}
	return rows
}

// PostgresStore implements ConversationStore using GORM + PostgreSQL. Writes
// to one conversation are serialized by a row lock on its conversations row.
type PostgresStore struct {
	db *gorm.DB
}

// Close releases the connection pool.
func (s *PostgresStore) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func now() time.Time {
	// Postgres keeps microseconds.
	return time.Now().UTC().Truncate(time.Microsecond)
}

const upsertUserSQL = `
INSERT INTO users (id, email, display_name, avatar_url, created_at, updated_at)
VALUES (@id, NULLIF(@email, ''), NULLIF(@name, ''), NULLIF(@avatar, ''), @now, @now)
ON CONFLICT (id) DO UPDATE SET
    email        = COALESCE(EXCLUDED.email, users.email),
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    avatar_url   = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
    updated_at   = CASE
        WHEN (EXCLUDED.email IS NOT NULL AND EXCLUDED.email IS DISTINCT FROM users.email)
          OR (EXCLUDED.display_name IS NOT NULL AND EXCLUDED.display_name IS DISTINCT FROM users.display_name)
          OR (EXCLUDED.avatar_url IS NOT NULL AND EXCLUDED.avatar_url IS DISTINCT FROM users.avatar_url)
        THEN EXCLUDED.updated_at
        ELSE users.updated_at
    END
RETURNING id, email, display_name, avatar_url, created_at, updated_at`

func (s *PostgresStore) UpsertUser(ctx context.Context, profile model.UserProfile) (*model.User, error) {
	if profile.Subject == "" {
		return nil, &registrystore.ValidationError{Field: "subject", Message: "is required"}
	}
	var user model.User
	err := s.db.WithContext(ctx).Raw(upsertUserSQL, map[string]any{
		"id":     profile.Subject,
		"email":  profile.Email,
		"name":   profile.DisplayName,
		"avatar": profile.AvatarURL,
		"now":    now(),
	}).Scan(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	result := s.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	return &user, nil
}

func (s *PostgresStore) CreateRoot(ctx context.Context, ownerID string, first model.Message) (*model.Conversation, error) {
	if err := branch.ValidateMessages([]model.Message{first}); err != nil {
		return nil, err
	}
	first.Timestamp = first.Timestamp.UTC().Truncate(time.Microsecond)
	conv := branch.NewRoot(uuid.New(), ownerID, first, now())
	if err := insert(s.db.WithContext(ctx), conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// insert writes a new conversation and its messages. Callers pass the
// transaction they are running in, or the bare handle for a standalone write.
func insert(db *gorm.DB, conv *model.Conversation) error {
	return db.Transaction(func(tx *gorm.DB) error {
		row := conversationRow{
			ID:                   conv.ID,
			OwnerID:              conv.OwnerID,
			Title:                conv.Title,
			MessageCount:         len(conv.Messages),
			CreatedAt:            conv.CreatedAt,
			UpdatedAt:            conv.UpdatedAt,
			ParentConversationID: conv.ParentConversationID,
			BranchPointMessageID: conv.BranchPointMessageID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		if len(conv.Messages) == 0 {
			return nil
		}
		if err := tx.Create(messageRows(conv.ID, 0, conv.Messages)).Error; err != nil {
			return insertMessagesError("create", err)
		}
		return nil
	})
}

// lockConversation loads a conversation row and checks ownership. An empty
// strength reads without a row lock.
func lockConversation(tx *gorm.DB, conversationID uuid.UUID, requesterID string, strength string) (*conversationRow, error) {
	var row conversationRow
	if strength != "" {
		tx = tx.Clauses(clause.Locking{Strength: strength})
	}
	result := tx.Where("id = ?", conversationID).
		Limit(1).
		Find(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	if row.OwnerID != requesterID {
		return nil, &registrystore.ForbiddenError{Resource: "conversation", ID: conversationID.String()}
	}
	return &row, nil
}

func loadConversation(tx *gorm.DB, row *conversationRow) (*model.Conversation, error) {
	var rows []messageRow
	if err := tx.Where("conversation_id = ?", row.ID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	conv := &model.Conversation{
		ID:                   row.ID,
		OwnerID:              row.OwnerID,
		Title:                row.Title,
		Messages:             make([]model.Message, len(rows)),
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
		ParentConversationID: row.ParentConversationID,
		BranchPointMessageID: row.BranchPointMessageID,
	}
	for i, r := range rows {
		conv.Messages[i] = model.Message{
			ID:        r.MessageID,
			Role:      model.Role(r.Role),
			Content:   r.Content,
			Timestamp: r.CreatedAt,
		}
	}
	return conv, nil
}

func (s *PostgresStore) Append(ctx context.Context, conversationID uuid.UUID, requesterID string, messages []model.Message) (*model.Conversation, error) {
	if err := branch.ValidateMessages(messages); err != nil {
		return nil, err
	}
	var result *model.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockConversation(tx, conversationID, requesterID, "UPDATE")
		if err != nil {
			return err
		}
		if err := tx.Create(messageRows(row.ID, row.MessageCount, messages)).Error; err != nil {
			return insertMessagesError("append", err)
		}
		row.MessageCount += len(messages)
		row.UpdatedAt = model.NextUpdatedAt(row.UpdatedAt, now(), time.Microsecond)
		if err := tx.Model(&conversationRow{}).Where("id = ?", row.ID).Updates(map[string]any{
			"message_count": row.MessageCount,
			"updated_at":    row.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		result, err = loadConversation(tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Get(ctx context.Context, conversationID uuid.UUID, requesterID string) (*model.Conversation, error) {
	var result *model.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// FOR SHARE waits out an in-flight append so the row and its messages agree.
		row, err := lockConversation(tx, conversationID, requesterID, "SHARE")
		if err != nil {
			return err
		}
		result, err = loadConversation(tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ListMetadata(ctx context.Context, ownerID string) ([]model.ConversationMetadata, error) {
	var rows []conversationRow
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	list := make([]model.ConversationMetadata, len(rows))
	for i, r := range rows {
		list[i] = r.metadata()
	}
	return list, nil
}

func (s *PostgresStore) Branch(ctx context.Context, sourceID uuid.UUID, cutMessageID uuid.UUID, requesterID string) (*model.Conversation, error) {
	var child *model.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockConversation(tx, sourceID, requesterID, "SHARE")
		if err != nil {
			return err
		}
		source, err := loadConversation(tx, row)
		if err != nil {
			return err
		}
		child, err = branch.Derive(source, cutMessageID, requesterID, uuid.New(), now())
		if err != nil {
			return err
		}
		return insert(tx, child)
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (s *PostgresStore) ListBranches(ctx context.Context, parentID uuid.UUID, requesterID string, branchPointMessageID *uuid.UUID) ([]model.ConversationMetadata, error) {
	db := s.db.WithContext(ctx)
	if _, err := lockConversation(db, parentID, requesterID, ""); err != nil {
		return nil, err
	}
	q := db.Where("parent_conversation_id = ?", parentID)
	if branchPointMessageID != nil {
		q = q.Where("branch_point_message_id = ?", *branchPointMessageID)
	}
	var rows []conversationRow
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	list := make([]model.ConversationMetadata, len(rows))
	for i, r := range rows {
		list[i] = r.metadata()
	}
	return list, nil
}

var _ registrystore.ConversationStore = (*PostgresStore)(nil)
