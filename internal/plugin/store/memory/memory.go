// Package memory is an in-process ConversationStore. Data does not survive a
// restart; it backs local development and the HTTP test suites.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chirino/threadflow/internal/branch"
	"github.com/chirino/threadflow/internal/model"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/google/uuid"
	clone "github.com/huandu/go-clone"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			return New(), nil
		},
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// record guards one conversation. Holding mu is the per-conversation
// serialization scope: appends and branch snapshots take it, operations on
// other conversations never do.
type record struct {
	mu   sync.Mutex
	conv *model.Conversation
}

// MemoryStore implements ConversationStore with maps.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[uuid.UUID]*record

	now func() time.Time
}

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		users:         map[string]*model.User{},
		conversations: map[uuid.UUID]*record{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) UpsertUser(_ context.Context, profile model.UserProfile) (*model.User, error) {
	if profile.Subject == "" {
		return nil, &registrystore.ValidationError{Field: "subject", Message: "is required"}
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[profile.Subject]
	if !ok {
		u = &model.User{ID: profile.Subject, CreatedAt: now, UpdatedAt: now}
		s.users[profile.Subject] = u
	}
	changed := refresh(&u.Email, profile.Email)
	changed = refresh(&u.DisplayName, profile.DisplayName) || changed
	changed = refresh(&u.AvatarURL, profile.AvatarURL) || changed
	if changed && ok {
		u.UpdatedAt = now
	}
	return clone.Clone(u).(*model.User), nil
}

func refresh(field **string, value string) bool {
	if value == "" || (*field != nil && **field == value) {
		return false
	}
	v := value
	*field = &v
	return true
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	return clone.Clone(u).(*model.User), nil
}

func (s *MemoryStore) CreateRoot(_ context.Context, ownerID string, first model.Message) (*model.Conversation, error) {
	if err := branch.ValidateMessages([]model.Message{first}); err != nil {
		return nil, err
	}
	conv := branch.NewRoot(uuid.New(), ownerID, first, s.now())
	s.insert(conv)
	return clone.Clone(conv).(*model.Conversation), nil
}

func (s *MemoryStore) insert(conv *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = &record{conv: conv}
}

// lookup finds the record and checks ownership without taking the record lock:
// owner_id never changes after creation.
func (s *MemoryStore) lookup(conversationID uuid.UUID, requesterID string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	if rec.conv.OwnerID != requesterID {
		return nil, &registrystore.ForbiddenError{Resource: "conversation", ID: conversationID.String()}
	}
	return rec, nil
}

func (s *MemoryStore) Append(_ context.Context, conversationID uuid.UUID, requesterID string, messages []model.Message) (*model.Conversation, error) {
	if err := branch.ValidateMessages(messages); err != nil {
		return nil, err
	}
	rec, err := s.lookup(conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, m := range messages {
		if rec.conv.IndexOfMessage(m.ID) >= 0 {
			return nil, &registrystore.ConflictError{Message: "message already exists: " + m.ID.String(), Code: "duplicate_message"}
		}
	}
	rec.conv.Messages = append(rec.conv.Messages, messages...)
	rec.conv.UpdatedAt = model.NextUpdatedAt(rec.conv.UpdatedAt, s.now(), time.Microsecond)
	return clone.Clone(rec.conv).(*model.Conversation), nil
}

func (s *MemoryStore) Get(_ context.Context, conversationID uuid.UUID, requesterID string) (*model.Conversation, error) {
	rec, err := s.lookup(conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return clone.Clone(rec.conv).(*model.Conversation), nil
}

func (s *MemoryStore) ListMetadata(_ context.Context, ownerID string) ([]model.ConversationMetadata, error) {
	list := s.collect(func(c *model.Conversation) bool { return c.OwnerID == ownerID })
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func (s *MemoryStore) collect(match func(*model.Conversation) bool) []model.ConversationMetadata {
	s.mu.RLock()
	records := make([]*record, 0, len(s.conversations))
	for _, rec := range s.conversations {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	list := []model.ConversationMetadata{}
	for _, rec := range records {
		rec.mu.Lock()
		if match(rec.conv) {
			list = append(list, rec.conv.Metadata())
		}
		rec.mu.Unlock()
	}
	return list
}

func (s *MemoryStore) Branch(_ context.Context, sourceID uuid.UUID, cutMessageID uuid.UUID, requesterID string) (*model.Conversation, error) {
	rec, err := s.lookup(sourceID, requesterID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	child, err := branch.Derive(rec.conv, cutMessageID, requesterID, uuid.New(), s.now())
	rec.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.insert(child)
	return clone.Clone(child).(*model.Conversation), nil
}

func (s *MemoryStore) ListBranches(_ context.Context, parentID uuid.UUID, requesterID string, branchPointMessageID *uuid.UUID) ([]model.ConversationMetadata, error) {
	if _, err := s.lookup(parentID, requesterID); err != nil {
		return nil, err
	}
	list := s.collect(func(c *model.Conversation) bool {
		if c.ParentConversationID == nil || *c.ParentConversationID != parentID {
			return false
		}
		return branchPointMessageID == nil || (c.BranchPointMessageID != nil && *c.BranchPointMessageID == *branchPointMessageID)
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

var _ registrystore.ConversationStore = (*MemoryStore)(nil)
