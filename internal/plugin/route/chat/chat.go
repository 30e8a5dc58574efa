package chat

import (
	"net/http"
	"strings"

	"github.com/chirino/threadflow/internal/plugin/route/apierror"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/chirino/threadflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// request accepts both camelCase and the snake_case names older clients send.
// UserMessageID retries generation for a stored, unanswered user message.
type request struct {
	Message             string  `json:"message"`
	Provider            string  `json:"provider"`
	ModelID             string  `json:"modelId"`
	ModelIDSnake        string  `json:"model_id"`
	ConversationID      *string `json:"conversationId"`
	ConversationIDSnake *string `json:"conversation_id"`
	UserMessageID       *string `json:"userMessageId"`
	UserMessageIDSnake  *string `json:"user_message_id"`
}

type response struct {
	Response           string `json:"response"`
	ConversationID     string `json:"conversationId"`
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "chat",
		Order: 10,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, svc registryroute.Services) error {
			MountRoutes(r, svc.Chat, svc.Auth)
			return nil
		},
	})
}

// MountRoutes mounts POST /chat behind auth.
func MountRoutes(r *gin.Engine, chat *service.Chat, auth gin.HandlerFunc) {
	r.POST("/chat", auth, func(c *gin.Context) {
		submit(c, chat)
	})
}

func submit(c *gin.Context, chat *service.Chat) {
	var req request
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.WriteBind(c, err)
		return
	}

	sreq := service.SubmitRequest{
		OwnerID:  security.GetUserID(c),
		Provider: strings.TrimSpace(req.Provider),
		ModelID:  strings.TrimSpace(firstNonEmpty(req.ModelID, req.ModelIDSnake)),
		Text:     req.Message,
	}
	var err error
	if sreq.ConversationID, err = parseID("conversationId", req.ConversationID, req.ConversationIDSnake); err != nil {
		apierror.Write(c, err)
		return
	}
	if sreq.RetryMessageID, err = parseID("userMessageId", req.UserMessageID, req.UserMessageIDSnake); err != nil {
		apierror.Write(c, err)
		return
	}

	result, err := chat.Submit(c.Request.Context(), sreq)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, response{
		Response:           result.AssistantText,
		ConversationID:     result.ConversationID.String(),
		UserMessageID:      result.UserMessageID.String(),
		AssistantMessageID: result.AssistantMessageID.String(),
	})
}

// parseID reads an optional id sent under either spelling. Absent and empty
// both mean nil.
func parseID(field string, camel, snake *string) (*uuid.UUID, error) {
	raw := camel
	if raw == nil {
		raw = snake
	}
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, &registrystore.ValidationError{Field: field, Message: "invalid " + field}
	}
	return &id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
