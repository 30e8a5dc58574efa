package metrics

import (
	"context"
	"time"

	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ConversationStore that records latency and outcome for every operation.
func Wrap(inner store.ConversationStore) store.ConversationStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ConversationStore
}

func (m *metricsStore) Close(ctx context.Context) error {
	return store.Close(ctx, m.inner)
}

func (m *metricsStore) UpsertUser(ctx context.Context, profile model.UserProfile) (_ *model.User, err error) {
	defer func(start time.Time) { security.ObserveStore("upsert_user", start, err) }(time.Now())
	return m.inner.UpsertUser(ctx, profile)
}

func (m *metricsStore) GetUser(ctx context.Context, userID string) (_ *model.User, err error) {
	defer func(start time.Time) { security.ObserveStore("get_user", start, err) }(time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) CreateRoot(ctx context.Context, ownerID string, first model.Message) (_ *model.Conversation, err error) {
	defer func(start time.Time) { security.ObserveStore("create_root", start, err) }(time.Now())
	return m.inner.CreateRoot(ctx, ownerID, first)
}

func (m *metricsStore) Append(ctx context.Context, conversationID uuid.UUID, requesterID string, messages []model.Message) (_ *model.Conversation, err error) {
	defer func(start time.Time) { security.ObserveStore("append", start, err) }(time.Now())
	return m.inner.Append(ctx, conversationID, requesterID, messages)
}

func (m *metricsStore) Get(ctx context.Context, conversationID uuid.UUID, requesterID string) (_ *model.Conversation, err error) {
	defer func(start time.Time) { security.ObserveStore("get", start, err) }(time.Now())
	return m.inner.Get(ctx, conversationID, requesterID)
}

func (m *metricsStore) ListMetadata(ctx context.Context, ownerID string) (_ []model.ConversationMetadata, err error) {
	defer func(start time.Time) { security.ObserveStore("list_metadata", start, err) }(time.Now())
	return m.inner.ListMetadata(ctx, ownerID)
}

func (m *metricsStore) Branch(ctx context.Context, sourceID uuid.UUID, cutMessageID uuid.UUID, requesterID string) (_ *model.Conversation, err error) {
	defer func(start time.Time) { security.ObserveStore("branch", start, err) }(time.Now())
	return m.inner.Branch(ctx, sourceID, cutMessageID, requesterID)
}

func (m *metricsStore) ListBranches(ctx context.Context, parentID uuid.UUID, requesterID string, branchPointMessageID *uuid.UUID) (_ []model.ConversationMetadata, err error) {
	defer func(start time.Time) { security.ObserveStore("list_branches", start, err) }(time.Now())
	return m.inner.ListBranches(ctx, parentID, requesterID, branchPointMessageID)
}
