package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ostrovskym/relaygate-server/internal/store"
)

// ChatHandlers serves chat history. Clients use it to reconcile local state
// after a reconnect, since real-time delivery is best effort.
type ChatHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(st store.Store, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{store: st, log: logger}
}

// ChatMessageResponse is one persisted message.
type ChatMessageResponse struct {
	ID       string `json:"id"`
	ChatID   string `json:"chatId"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	ClientTS int64  `json:"clientTs"`
}

// ListChats returns the IDs of every chat the session user belongs to.
// GET /api/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	ids, err := h.store.ListChatsOf(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("list chats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": ids})
}

// ListMessages returns a chat's messages, newest first.
// GET /api/chats/:id/messages?limit=50
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	chatID := c.Param("id")

	members, err := h.store.ListChatMembers(c.Request.Context(), chatID)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("list chat members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	isMember := false
	for _, m := range members {
		if m == userID {
			isMember = true
			break
		}
	}
	if !isMember {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a chat member"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.store.ListMessages(c.Request.Context(), chatID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]ChatMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessageResponse{
			ID:       m.ID,
			ChatID:   m.ChatID,
			Sender:   m.SenderID,
			Content:  m.Content,
			ClientTS: m.ClientTS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
