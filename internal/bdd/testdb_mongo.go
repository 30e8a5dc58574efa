package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoTestDB implements cucumber.TestDB for MongoDB.
type MongoTestDB struct {
	DBURL string
}

var _ cucumber.TestDB = (*MongoTestDB)(nil)

func (m *MongoTestDB) db() (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(m.DBURL))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	cfg := config.Config{DBURL: m.DBURL}
	return client, client.Database(cfg.MongoDatabaseName()), nil
}

func (m *MongoTestDB) ClearAll(ctx context.Context) error {
	client, db, err := m.db()
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	for _, coll := range []string{"conversations", "users"} {
		if _, err := db.Collection(coll).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("cleanup: failed to clear %s: %w", coll, err)
		}
	}
	return nil
}

func (m *MongoTestDB) MessageCount(ctx context.Context, conversationID string) (int, error) {
	client, db, err := m.db()
	if err != nil {
		return 0, err
	}
	defer client.Disconnect(ctx)

	var doc struct {
		MessageCount int        `bson:"message_count"`
		Messages     []bson.Raw `bson:"messages"`
	}
	err = db.Collection("conversations").FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("count messages of %s: %w", conversationID, err)
	}
	if doc.MessageCount != len(doc.Messages) {
		return 0, fmt.Errorf("conversation %s: message_count is %d but %d messages are stored", conversationID, doc.MessageCount, len(doc.Messages))
	}
	return len(doc.Messages), nil
}
