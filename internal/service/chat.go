package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/google/uuid"
)

// SubmitRequest is one user turn. Empty Provider or ModelID select the
// configured defaults.
//
// RetryMessageID asks for a new answer to a user message that is already
// stored as the conversation's last message, typically the UserMessageID of
// a SubmitError. Nothing is appended for it and Text is ignored.
type SubmitRequest struct {
	OwnerID        string
	ConversationID *uuid.UUID
	Provider       string
	ModelID        string
	Text           string
	RetryMessageID *uuid.UUID
}

type SubmitResult struct {
	ConversationID     uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	AssistantText      string
}

// SubmitError reports a failure after the user message was stored, so the
// caller can retry against the same conversation.
type SubmitError struct {
	ConversationID uuid.UUID
	UserMessageID  uuid.UUID
	Err            error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("conversation %s: %v", e.ConversationID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Chat runs a user turn: store the message, ask the provider, store the reply.
type Chat struct {
	conversations   *Conversations
	providers       *registryprovider.Catalog
	timeout         time.Duration
	defaultProvider string
	defaultModelID  string
	now             func() time.Time
}

// NewChat creates the orchestrator. timeout bounds each provider call.
func NewChat(conversations *Conversations, providers *registryprovider.Catalog, timeout time.Duration, defaultProvider, defaultModelID string) *Chat {
	return &Chat{
		conversations:   conversations,
		providers:       providers,
		timeout:         timeout,
		defaultProvider: defaultProvider,
		defaultModelID:  defaultModelID,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates the request before writing anything. Once the user
// message is stored, failures are returned as *SubmitError.
func (c *Chat) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	retrying := req.RetryMessageID != nil
	switch {
	case retrying && req.ConversationID == nil:
		return nil, &registrystore.ValidationError{Field: "conversationId", Message: "is required to retry a message"}
	case !retrying && strings.TrimSpace(req.Text) == "":
		return nil, &registrystore.ValidationError{Field: "message", Message: "must not be empty"}
	}
	providerName := req.Provider
	modelID := req.ModelID
	if providerName == "" {
		providerName = c.defaultProvider
	}
	if modelID == "" {
		modelID = c.defaultModelID
	}
	prov, err := c.providers.Resolve(providerName, modelID)
	if err != nil {
		return nil, err
	}

	var conv *model.Conversation
	var userMsg model.Message
	switch {
	case retrying:
		if conv, err = c.conversations.Get(ctx, *req.ConversationID, req.OwnerID); err != nil {
			return nil, err
		}
		if userMsg, err = pendingUserMessage(conv, *req.RetryMessageID); err != nil {
			return nil, err
		}
	case req.ConversationID == nil:
		userMsg = model.Message{ID: uuid.New(), Role: model.RoleUser, Content: req.Text, Timestamp: c.now()}
		conv, err = c.conversations.CreateRoot(ctx, req.OwnerID, userMsg)
	default:
		userMsg = model.Message{ID: uuid.New(), Role: model.RoleUser, Content: req.Text, Timestamp: c.now()}
		conv, err = c.conversations.Append(ctx, *req.ConversationID, req.OwnerID, []model.Message{userMsg})
	}
	if err != nil {
		return nil, err
	}

	text, err := c.generate(ctx, prov, modelID, conv.Messages)
	if err != nil {
		log.Warn("Provider call failed", "conversation", conv.ID, "provider", providerName, "model", modelID, "err", err)
		return nil, &SubmitError{ConversationID: conv.ID, UserMessageID: userMsg.ID, Err: err}
	}

	reply := model.Message{ID: uuid.New(), Role: model.RoleAssistant, Content: text, Timestamp: c.now()}
	if _, err := c.conversations.Append(ctx, conv.ID, req.OwnerID, []model.Message{reply}); err != nil {
		log.Error("Failed to store assistant reply", "conversation", conv.ID, "err", err)
		return nil, &SubmitError{ConversationID: conv.ID, UserMessageID: userMsg.ID, Err: err}
	}

	return &SubmitResult{
		ConversationID:     conv.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: reply.ID,
		AssistantText:      text,
	}, nil
}

// pendingUserMessage returns the message a retry answers. Only the last
// message of the conversation qualifies, and only when the user wrote it.
func pendingUserMessage(conv *model.Conversation, id uuid.UUID) (model.Message, error) {
	idx := conv.IndexOfMessage(id)
	if idx < 0 {
		return model.Message{}, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	msg := conv.Messages[idx]
	if idx != len(conv.Messages)-1 || msg.Role != model.RoleUser {
		return model.Message{}, &registrystore.ConflictError{
			Message: fmt.Sprintf("message %s is not an unanswered user message", id),
			Code:    "retry_not_pending",
		}
	}
	return msg, nil
}

type generation struct {
	text string
	err  error
}

// generate calls the provider without holding any store lock. When the
// deadline passes or the caller goes away it returns a timeout and the late
// result is dropped.
func (c *Chat) generate(ctx context.Context, prov registryprovider.Provider, modelID string, transcript []model.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan generation, 1)
	go func() {
		text, err := prov.Generate(callCtx, modelID, transcript)
		done <- generation{text: text, err: err}
	}()

	var text string
	var err error
	select {
	case g := <-done:
		text, err = g.text, g.err
		if err != nil {
			err = registryprovider.Wrap(prov.Name(), err)
		}
	case <-callCtx.Done():
		err = &registryprovider.Error{Provider: prov.Name(), Message: callCtx.Err().Error(), Timeout: true}
	}
	observeProvider(prov.Name(), start, err)
	return text, err
}

func observeProvider(name string, start time.Time, err error) {
	outcome := "ok"
	var perr *registryprovider.Error
	switch {
	case errors.As(err, &perr) && perr.Timeout:
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	security.ObserveProvider(name, outcome, start)
}
