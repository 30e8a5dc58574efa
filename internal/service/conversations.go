package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/plugin/cache/noop"
	registrycache "github.com/chirino/threadflow/internal/registry/cache"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/google/uuid"
)

// Conversations fronts the store with the cached metadata projection. Every
// acknowledged write bumps the owner's cache generation before returning, so
// List never serves a list older than the caller's last acknowledged write.
type Conversations struct {
	store    registrystore.ConversationStore
	cache    registrycache.MetadataCache
	cacheTTL time.Duration
}

// NewConversations creates the service. A nil cache disables caching.
func NewConversations(store registrystore.ConversationStore, cache registrycache.MetadataCache, cacheTTL time.Duration) *Conversations {
	if cache == nil {
		cache = noop.New()
	}
	return &Conversations{store: store, cache: cache, cacheTTL: cacheTTL}
}

func (s *Conversations) CreateRoot(ctx context.Context, ownerID string, first model.Message) (*model.Conversation, error) {
	conv, err := s.store.CreateRoot(ctx, ownerID, first)
	if err != nil {
		return nil, err
	}
	security.RecordConversationCreated("root")
	s.invalidate(ctx, ownerID)
	return conv, nil
}

func (s *Conversations) Append(ctx context.Context, conversationID uuid.UUID, requesterID string, messages []model.Message) (*model.Conversation, error) {
	conv, err := s.store.Append(ctx, conversationID, requesterID, messages)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, conv.OwnerID)
	return conv, nil
}

func (s *Conversations) Get(ctx context.Context, conversationID uuid.UUID, requesterID string) (*model.Conversation, error) {
	return s.store.Get(ctx, conversationID, requesterID)
}

func (s *Conversations) Branch(ctx context.Context, sourceID, cutMessageID uuid.UUID, requesterID string) (*model.Conversation, error) {
	child, err := s.store.Branch(ctx, sourceID, cutMessageID, requesterID)
	if err != nil {
		return nil, err
	}
	security.RecordConversationCreated("branch")
	s.invalidate(ctx, child.OwnerID)
	return child, nil
}

func (s *Conversations) ListBranches(ctx context.Context, parentID uuid.UUID, requesterID string, branchPointMessageID *uuid.UUID) ([]model.ConversationMetadata, error) {
	return s.store.ListBranches(ctx, parentID, requesterID, branchPointMessageID)
}

// List returns the owner's conversation metadata, newest first. Cache
// failures fall back to the store.
func (s *Conversations) List(ctx context.Context, ownerID string) ([]model.ConversationMetadata, error) {
	if !s.cache.Available() {
		return s.store.ListMetadata(ctx, ownerID)
	}

	generation, err := s.cache.Generation(ctx, ownerID)
	if err != nil {
		log.Warn("Metadata cache generation lookup failed", "owner", ownerID, "err", err)
		return s.store.ListMetadata(ctx, ownerID)
	}
	list, ok, err := s.cache.Get(ctx, ownerID, generation)
	if err != nil {
		log.Warn("Metadata cache read failed", "owner", ownerID, "err", err)
	}
	security.RecordCacheLookup(ok)
	if ok {
		return list, nil
	}

	list, err = s.store.ListMetadata(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, ownerID, generation, list, s.cacheTTL); err != nil {
		log.Warn("Metadata cache write failed", "owner", ownerID, "err", err)
	}
	return list, nil
}

// invalidateTimeout bounds the generation bump that follows a write.
const invalidateTimeout = 2 * time.Second

// invalidate bumps the owner's generation. The write has already committed,
// so the bump outlives the caller's cancellation, and a failure is logged
// rather than returned; stale entries then live at most until their TTL.
func (s *Conversations) invalidate(ctx context.Context, ownerID string) {
	if !s.cache.Available() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := s.cache.Bump(ctx, ownerID); err != nil {
		log.Error("Metadata cache invalidation failed", "owner", ownerID, "err", err)
	}
}
