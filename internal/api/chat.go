package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/mindful.ai/internal/models"
	"github.com/wuwenbin0122/mindful.ai/internal/relay"
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) handleChat(c *gin.Context) {
	userID, ok := h.authenticate(c, false)
	if !ok {
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(c, http.StatusBadRequest, "prompt is required", relay.ErrEmptyPrompt)
		return
	}

	channel := &httpChannel{c: c}
	result, err := h.relay.HandleExchange(c.Request.Context(), userID, req.Prompt, channel)
	if err != nil {
		// Nothing has been written yet, so a proper status is still possible.
		h.writeError(c, http.StatusInternalServerError, "Failed to process chat request", err)
		return
	}

	h.logger.Debugw("chat exchange finished",
		"user_id", userID,
		"state", result.State.String(),
		"fragments", result.Fragments,
		"persisted", result.Persisted,
		"client_gone", result.ClientGone,
	)
}

// httpChannel streams plain text, flushing after every fragment so the client
// always holds a prefix of the final reply.
type httpChannel struct {
	c *gin.Context
}

func (ch *httpChannel) Begin() error {
	header := ch.c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Del("Content-Length")

	ch.c.Status(http.StatusOK)
	ch.c.Writer.WriteHeaderNow()
	ch.c.Writer.Flush()
	return ch.c.Request.Context().Err()
}

func (ch *httpChannel) Write(fragment string) error {
	if _, err := ch.c.Writer.WriteString(fragment); err != nil {
		return err
	}
	ch.c.Writer.Flush()
	return ch.c.Request.Context().Err()
}

func (ch *httpChannel) Fail(marker string) error {
	return ch.Write(marker)
}

func (ch *httpChannel) Close() error {
	ch.c.Writer.Flush()
	return nil
}

var errInvalidLimit = errors.New("limit must be a positive integer")

type historyResponse struct {
	Turns []models.ConversationTurn `json:"turns"`
	Count int                       `json:"count"`
}

func (h *Handler) handleHistory(c *gin.Context) {
	userID, ok := h.authenticate(c, false)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(c, http.StatusBadRequest, "invalid limit", errInvalidLimit)
			return
		}
		limit = n
	}

	log, err := h.history.Find(c.Request.Context(), userID)
	if err != nil {
		h.logger.Errorw("history lookup failed", "user_id", userID, "error", err)
		h.writeError(c, http.StatusInternalServerError, "failed to load history", err)
		return
	}

	turns := log.SortedTurns()
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}

	c.JSON(http.StatusOK, historyResponse{Turns: turns, Count: len(turns)})
}
