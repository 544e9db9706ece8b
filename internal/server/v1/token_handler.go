package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/gateway"
	"github.com/nulzo/chat-gateway/internal/server/validator"
	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/model"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// TokenHandler manages supplier credentials. Every change is persisted before it reaches the pools.
type TokenHandler struct {
	agent  *gateway.Agent
	repo   store.Repository
	logger *zap.Logger
}

func NewTokenHandler(agent *gateway.Agent, repo store.Repository, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{agent: agent, repo: repo, logger: logger}
}

// Put registers or replaces a credential.
//
// POST /v1/admin/tokens
func (h *TokenHandler) Put(c *gin.Context) {
	var req api.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	token := supplier.Token{
		ID:       req.ID,
		Supplier: supplier.Name(req.Supplier),
		Secret:   req.Secret,
		BaseURL:  req.BaseURL,
		Weight:   req.Weight,
		Status:   supplier.Status(req.Status),
	}
	if token.Status == "" {
		token.Status = supplier.StatusActive
	}

	prev, _, prevErr := h.agent.GetClient(token.Supplier, token.ID)

	// the row is rolled back when the pool cannot build a client for it
	published := false
	err := h.repo.WithTx(c.Request.Context(), func(repo store.Repository) error {
		if err := repo.Tokens().Upsert(c.Request.Context(), model.TokenFromDomain(token)); err != nil {
			return err
		}
		if err := h.agent.PutClient(token); err != nil {
			return err
		}
		published = true
		return nil
	})
	if err != nil {
		if published {
			h.revert(token, prev, prevErr == nil)
		}
		_ = c.Error(err)
		return
	}

	h.logger.Info("Token registered", zap.Stringer("token", token), zap.String("status", string(token.Status)))
	c.JSON(http.StatusCreated, tokenResponse(token))
}

// revert puts the pool back the way it was before a Put whose commit failed.
func (h *TokenHandler) revert(token, prev supplier.Token, held bool) {
	var err error
	if held {
		err = h.agent.PutClient(prev)
	} else {
		err = h.agent.RemoveClient(token)
	}
	if err != nil && !errors.Is(err, supplier.ErrNotFound) {
		h.logger.Error("Failed to revert pool after aborted token write", zap.Stringer("token", token), zap.Error(err))
	}
}

// Get returns a live credential without its secret.
//
// GET /v1/admin/tokens/:supplier/:id
func (h *TokenHandler) Get(c *gin.Context) {
	name, id, ok := tokenParams(c)
	if !ok {
		return
	}

	token, _, err := h.agent.GetClient(name, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(token))
}

// List returns every stored credential, live or disabled.
//
// GET /v1/admin/tokens
func (h *TokenHandler) List(c *gin.Context) {
	rows, err := h.repo.Tokens().List(c.Request.Context())
	if err != nil {
		_ = c.Error(api.InternalError("Failed to list tokens", err))
		return
	}

	out := make([]api.TokenResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, tokenResponse(r.Domain()))
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   out,
	})
}

// Delete removes a credential from the store and its pool. It is a 404 only when neither held it.
//
// DELETE /v1/admin/tokens/:supplier/:id
func (h *TokenHandler) Delete(c *gin.Context) {
	name, id, ok := tokenParams(c)
	if !ok {
		return
	}

	storeErr := h.repo.Tokens().Delete(c.Request.Context(), string(name), id)
	if storeErr != nil && !errors.Is(storeErr, store.ErrNotFound) {
		_ = c.Error(api.InternalError("Failed to delete token", storeErr))
		return
	}

	poolErr := h.agent.RemoveClient(supplier.Token{ID: id, Supplier: name})
	if poolErr != nil && !errors.Is(poolErr, supplier.ErrNotFound) {
		_ = c.Error(poolErr)
		return
	}
	if storeErr != nil && poolErr != nil {
		_ = c.Error(poolErr)
		return
	}

	h.logger.Info("Token removed", zap.String("supplier", string(name)), zap.Int64("id", id))
	c.Status(http.StatusNoContent)
}

func tokenParams(c *gin.Context) (supplier.Name, int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(api.BadRequestError("Invalid token id", api.WithLog(err)))
		return "", 0, false
	}
	return supplier.Name(c.Param("supplier")), id, true
}

func tokenResponse(t supplier.Token) api.TokenResponse {
	return api.TokenResponse{
		ID:           t.ID,
		Supplier:     string(t.Supplier),
		BaseURL:      t.BaseURL,
		Weight:       t.Weight,
		Status:       string(t.Status),
		SecretPrefix: t.SecretPrefix(),
	}
}
