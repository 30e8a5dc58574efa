package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/branch"
	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registrymigrate "github.com/chirino/threadflow/internal/registry/migrate"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				_ = client.Disconnect(context.WithoutCancel(ctx))
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{
				client: client,
				db:     client.Database(cfg.MongoDatabaseName()),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Datastore: "mongo", Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDatabaseName())

	collections := map[string][]mongo.IndexModel{
		"users": nil,
		"conversations": {
			{
				Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}},
				Options: options.Index().SetName("owner_recent"),
			},
			{
				Keys:    bson.D{{Key: "parent_conversation_id", Value: 1}, {Key: "branch_point_message_id", Value: 1}},
				Options: options.Index().SetName("parent_branch_point").SetSparse(true),
			},
		},
	}

	for name, indexes := range collections {
		// Ensure collection exists
		db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

// MongoStore implements ConversationStore using MongoDB. A conversation and
// its messages live in one document, so every write to a conversation is a
// single-document atomic update.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// --- MongoDB document types ---

type userDoc struct {
	ID          string    `bson:"_id"`
	Email       *string   `bson:"email,omitempty"`
	DisplayName *string   `bson:"display_name,omitempty"`
	AvatarURL   *string   `bson:"avatar_url,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type messageDoc struct {
	ID        string    `bson:"id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

type convDoc struct {
	ID                   string       `bson:"_id"`
	OwnerID              string       `bson:"owner_id"`
	Title                string       `bson:"title"`
	Messages             []messageDoc `bson:"messages"`
	MessageCount         int          `bson:"message_count"`
	CreatedAt            time.Time    `bson:"created_at"`
	UpdatedAt            time.Time    `bson:"updated_at"`
	ParentConversationID *string      `bson:"parent_conversation_id,omitempty"`
	BranchPointMessageID *string      `bson:"branch_point_message_id,omitempty"`
}

// --- Collection accessors ---

func (s *MongoStore) users() *mongo.Collection         { return s.db.Collection("users") }
func (s *MongoStore) conversations() *mongo.Collection { return s.db.Collection("conversations") }

// --- Helpers ---

func uuidToStr(id uuid.UUID) string { return id.String() }
func strToUUID(s string) uuid.UUID  { u, _ := uuid.Parse(s); return u }
func ptrUUIDToStr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
func ptrStrToUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	u, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &u
}

// BSON dates carry milliseconds.
func truncate(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func now() time.Time { return truncate(time.Now()) }

func toMessageDocs(msgs []model.Message) []messageDoc {
	docs := make([]messageDoc, len(msgs))
	for i, m := range msgs {
		docs[i] = messageDoc{ID: uuidToStr(m.ID), Role: string(m.Role), Content: m.Content, Timestamp: truncate(m.Timestamp)}
	}
	return docs
}

func toConvDoc(c *model.Conversation) convDoc {
	return convDoc{
		ID:                   uuidToStr(c.ID),
		OwnerID:              c.OwnerID,
		Title:                c.Title,
		Messages:             toMessageDocs(c.Messages),
		MessageCount:         len(c.Messages),
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
		ParentConversationID: ptrUUIDToStr(c.ParentConversationID),
		BranchPointMessageID: ptrUUIDToStr(c.BranchPointMessageID),
	}
}

func (d convDoc) toModel() *model.Conversation {
	conv := &model.Conversation{
		ID:                   strToUUID(d.ID),
		OwnerID:              d.OwnerID,
		Title:                d.Title,
		Messages:             make([]model.Message, len(d.Messages)),
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
		ParentConversationID: ptrStrToUUID(d.ParentConversationID),
		BranchPointMessageID: ptrStrToUUID(d.BranchPointMessageID),
	}
	for i, m := range d.Messages {
		conv.Messages[i] = model.Message{ID: strToUUID(m.ID), Role: model.Role(m.Role), Content: m.Content, Timestamp: m.Timestamp.UTC()}
	}
	return conv
}

func (d convDoc) toMetadata() model.ConversationMetadata {
	return model.ConversationMetadata{
		ID:                   strToUUID(d.ID),
		OwnerID:              d.OwnerID,
		Title:                d.Title,
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
		ParentConversationID: ptrStrToUUID(d.ParentConversationID),
		BranchPointMessageID: ptrStrToUUID(d.BranchPointMessageID),
		MessageCount:         d.MessageCount,
	}
}

func (d userDoc) toModel() *model.User {
	return &model.User{
		ID:          d.ID,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		AvatarURL:   d.AvatarURL,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

var metadataProjection = bson.M{"messages": 0}

// --- Users ---

func (s *MongoStore) UpsertUser(ctx context.Context, profile model.UserProfile) (*model.User, error) {
	if profile.Subject == "" {
		return nil, &registrystore.ValidationError{Field: "subject", Message: "is required"}
	}
	ts := now()

	_, err := s.users().UpdateOne(ctx,
		bson.M{"_id": profile.Subject},
		bson.M{"$setOnInsert": bson.M{"created_at": ts, "updated_at": ts}},
		options.UpdateOne().SetUpsert(true),
	)
	// Two first sightings can race on the upsert; the loser sees a duplicate key.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	set := bson.M{}
	var differs bson.A
	for field, value := range map[string]string{
		"email":        profile.Email,
		"display_name": profile.DisplayName,
		"avatar_url":   profile.AvatarURL,
	} {
		if value == "" {
			continue
		}
		set[field] = value
		differs = append(differs, bson.M{field: bson.M{"$ne": value}})
	}
	if len(set) > 0 {
		set["updated_at"] = ts
		if _, err := s.users().UpdateOne(ctx,
			bson.M{"_id": profile.Subject, "$or": differs},
			bson.M{"$set": set},
		); err != nil {
			return nil, fmt.Errorf("failed to refresh user: %w", err)
		}
	}
	return s.GetUser(ctx, profile.Subject)
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var doc userDoc
	err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return doc.toModel(), nil
}

// --- Conversations ---

func (s *MongoStore) CreateRoot(ctx context.Context, ownerID string, first model.Message) (*model.Conversation, error) {
	if err := branch.ValidateMessages([]model.Message{first}); err != nil {
		return nil, err
	}
	first.Timestamp = truncate(first.Timestamp)
	conv := branch.NewRoot(uuid.New(), ownerID, first, now())
	if _, err := s.conversations().InsertOne(ctx, toConvDoc(conv)); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// findOwned loads a conversation and checks ownership. A nil projection loads
// the whole document.
func (s *MongoStore) findOwned(ctx context.Context, conversationID uuid.UUID, requesterID string, projection any) (*convDoc, error) {
	opts := options.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}
	var doc convDoc
	err := s.conversations().FindOne(ctx, bson.M{"_id": uuidToStr(conversationID)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if doc.OwnerID != requesterID {
		return nil, &registrystore.ForbiddenError{Resource: "conversation", ID: conversationID.String()}
	}
	return &doc, nil
}

// Append pushes messages and advances updated_at in one pipeline update. The
// filter only matches when the requester owns the conversation and none of the
// new ids are present yet; a miss is diagnosed afterwards.
func (s *MongoStore) Append(ctx context.Context, conversationID uuid.UUID, requesterID string, messages []model.Message) (*model.Conversation, error) {
	if err := branch.ValidateMessages(messages); err != nil {
		return nil, err
	}
	docs := toMessageDocs(messages)
	ids := make(bson.A, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	filter := bson.M{
		"_id":         uuidToStr(conversationID),
		"owner_id":    requesterID,
		"messages.id": bson.M{"$nin": ids},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "messages", Value: bson.M{"$concatArrays": bson.A{"$messages", bson.M{"$literal": docs}}}},
			{Key: "message_count", Value: bson.M{"$add": bson.A{"$message_count", len(docs)}}},
			{Key: "updated_at", Value: bson.M{"$max": bson.A{now(), bson.M{"$add": bson.A{"$updated_at", 1}}}}},
		}}},
	}

	var doc convDoc
	err := s.conversations().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := s.findOwned(ctx, conversationID, requesterID, metadataProjection); err != nil {
			return nil, err
		}
		return nil, &registrystore.ConflictError{Message: "message already exists in conversation", Code: "duplicate_message"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) Get(ctx context.Context, conversationID uuid.UUID, requesterID string) (*model.Conversation, error) {
	doc, err := s.findOwned(ctx, conversationID, requesterID, nil)
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *MongoStore) ListMetadata(ctx context.Context, ownerID string) ([]model.ConversationMetadata, error) {
	return s.findMetadata(ctx, bson.M{"owner_id": ownerID},
		bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
}

func (s *MongoStore) findMetadata(ctx context.Context, filter bson.M, sort bson.D) ([]model.ConversationMetadata, error) {
	cursor, err := s.conversations().Find(ctx, filter, options.Find().SetProjection(metadataProjection).SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var docs []convDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	list := make([]model.ConversationMetadata, len(docs))
	for i, d := range docs {
		list[i] = d.toMetadata()
	}
	return list, nil
}

// Branch derives the child from a single-document read, which is a
// consistent snapshot of the source.
func (s *MongoStore) Branch(ctx context.Context, sourceID uuid.UUID, cutMessageID uuid.UUID, requesterID string) (*model.Conversation, error) {
	doc, err := s.findOwned(ctx, sourceID, requesterID, nil)
	if err != nil {
		return nil, err
	}
	child, err := branch.Derive(doc.toModel(), cutMessageID, requesterID, uuid.New(), now())
	if err != nil {
		return nil, err
	}
	if _, err := s.conversations().InsertOne(ctx, toConvDoc(child)); err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}
	return child, nil
}

func (s *MongoStore) ListBranches(ctx context.Context, parentID uuid.UUID, requesterID string, branchPointMessageID *uuid.UUID) ([]model.ConversationMetadata, error) {
	if _, err := s.findOwned(ctx, parentID, requesterID, metadataProjection); err != nil {
		return nil, err
	}
	filter := bson.M{"parent_conversation_id": uuidToStr(parentID)}
	if branchPointMessageID != nil {
		filter["branch_point_message_id"] = uuidToStr(*branchPointMessageID)
	}
	return s.findMetadata(ctx, filter, bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
}

var _ registrystore.ConversationStore = (*MongoStore)(nil)
