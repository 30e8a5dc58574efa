package conversations

import (
	"net/http"

	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/plugin/route/apierror"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/chirino/threadflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "conversations",
		Order: 20,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, svc registryroute.Services) error {
			MountRoutes(r, svc.Conversations, svc.Auth)
			return nil
		},
	})
}

// MountRoutes mounts conversation read and branch routes behind auth.
func MountRoutes(r *gin.Engine, conversations *service.Conversations, auth gin.HandlerFunc) {
	g := r.Group("/conversations", auth)

	g.GET("", func(c *gin.Context) {
		listConversations(c, conversations)
	})
	g.GET("/:conversationId", func(c *gin.Context) {
		getConversation(c, conversations)
	})
	g.POST("/:conversationId/branch", func(c *gin.Context) {
		branchConversation(c, conversations)
	})
	g.GET("/:conversationId/branches", func(c *gin.Context) {
		listBranches(c, conversations)
	})
}

func listConversations(c *gin.Context, conversations *service.Conversations) {
	userID := security.GetUserID(c)
	if owner := c.Query("owner"); owner != "" && owner != userID {
		apierror.Write(c, &registrystore.ForbiddenError{Resource: "conversations", ID: owner})
		return
	}

	list, err := conversations.List(c.Request.Context(), userID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func getConversation(c *gin.Context, conversations *service.Conversations) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := conversations.Get(c.Request.Context(), convID, security.GetUserID(c))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func branchConversation(c *gin.Context, conversations *service.Conversations) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	var req struct {
		MessageID      string `json:"messageId"`
		MessageIDSnake string `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.WriteBind(c, err)
		return
	}
	raw := req.MessageID
	if raw == "" {
		raw = req.MessageIDSnake
	}
	if raw == "" {
		apierror.Write(c, &registrystore.ValidationError{Field: "messageId", Message: "is required"})
		return
	}
	messageID, err := uuid.Parse(raw)
	if err != nil {
		apierror.Write(c, &registrystore.ValidationError{Field: "messageId", Message: "invalid messageId"})
		return
	}

	child, err := conversations.Branch(c.Request.Context(), convID, messageID, security.GetUserID(c))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, child)
}

func listBranches(c *gin.Context, conversations *service.Conversations) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	var branchPoint *uuid.UUID
	if raw := c.Query("messageId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			apierror.Write(c, &registrystore.ValidationError{Field: "messageId", Message: "invalid messageId"})
			return
		}
		branchPoint = &id
	}

	list, err := conversations.ListBranches(c.Request.Context(), convID, security.GetUserID(c), branchPoint)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	if list == nil {
		list = []model.ConversationMetadata{}
	}
	c.JSON(http.StatusOK, list)
}

// conversationID parses the path id. A malformed id cannot name a stored
// conversation, so it is reported as not found.
func conversationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		apierror.Write(c, &registrystore.NotFoundError{Resource: "conversation", ID: c.Param("conversationId")})
		return uuid.Nil, false
	}
	return id, true
}
