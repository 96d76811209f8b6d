package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/context-retrieval/middleware"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/services/retrieval"
	"github.com/upb/context-retrieval/utils"
	"go.uber.org/zap"
)

// ContextService is the retrieval surface the HTTP layer depends on
type ContextService interface {
	GetRelevantContext(ctx context.Context, q retrieval.ContextQuery) ([]models.RankedResult, error)
	StoreMessage(ctx context.Context, req retrieval.StoreRequest) (*models.Message, error)
	StoreMessages(ctx context.Context, scope models.Scope, items []retrieval.BatchItem) ([]*models.Message, error)
	DeleteMessage(ctx context.Context, scope models.Scope, id uuid.UUID) error
}

// StoreMessageRequest is the body of POST .../messages
type StoreMessageRequest struct {
	Role     string         `json:"role" validate:"required,oneof=user assistant"`
	Content  string         `json:"content" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StoreBatchRequest is the body of POST .../messages/batch
type StoreBatchRequest struct {
	Messages []StoreMessageRequest `json:"messages" validate:"required,min=1,max=100,dive"`
}

// ContextRequest is the body of POST .../context
type ContextRequest struct {
	Query       string `json:"query"`
	Limit       int    `json:"limit" validate:"gte=0,lte=50"`
	UseReranker *bool  `json:"use_reranker,omitempty"`
}

// MessageResponse is a stored message
type MessageResponse struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           models.Role    `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ContextResult is one ranked prior message
type ContextResult struct {
	MessageResponse
	Similarity    float64  `json:"similarity"`
	RerankedScore *float64 `json:"reranked_score,omitempty"`
	FinalScore    float64  `json:"final_score"`
}

// ContextResponse is the body returned by POST .../context
type ContextResponse struct {
	Results  []ContextResult `json:"results"`
	Reranked bool            `json:"reranked"`
}

// ContextHandler handles message storage and context retrieval requests
type ContextHandler struct {
	service       ContextService
	rerankDefault bool
	logger        *zap.Logger
}

// NewContextHandler creates a new ContextHandler. rerankDefault applies
// when a context request does not set use_reranker.
func NewContextHandler(service ContextService, rerankDefault bool, logger *zap.Logger) *ContextHandler {
	return &ContextHandler{
		service:       service,
		rerankDefault: rerankDefault,
		logger:        logger,
	}
}

// HandleStoreMessage handles POST /api/v1/conversations/{conversationID}/messages
func (h *ContextHandler) HandleStoreMessage(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req StoreMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.service.StoreMessage(r.Context(), retrieval.StoreRequest{
		Scope:    scope,
		Role:     models.Role(req.Role),
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, toMessageResponse(msg))
}

// HandleStoreBatch handles POST /api/v1/conversations/{conversationID}/messages/batch.
// The response is aligned with the request; blank messages are null.
func (h *ContextHandler) HandleStoreBatch(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req StoreBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]retrieval.BatchItem, len(req.Messages))
	for i, m := range req.Messages {
		items[i] = retrieval.BatchItem{Role: models.Role(m.Role), Content: m.Content, Metadata: m.Metadata}
	}

	stored, err := h.service.StoreMessages(r.Context(), scope, items)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	out := make([]*MessageResponse, len(stored))
	for i, msg := range stored {
		if msg != nil {
			resp := toMessageResponse(msg)
			out[i] = &resp
		}
	}
	_ = utils.WriteCreated(w, out)
}

// HandleGetContext handles POST /api/v1/conversations/{conversationID}/context
func (h *ContextHandler) HandleGetContext(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req ContextRequest
	if !h.decode(w, r, &req) {
		return
	}

	useReranker := h.rerankDefault
	if req.UseReranker != nil {
		useReranker = *req.UseReranker
	}

	results, err := h.service.GetRelevantContext(r.Context(), retrieval.ContextQuery{
		Text:        req.Query,
		Scope:       scope,
		Limit:       req.Limit,
		UseReranker: useReranker,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	resp := ContextResponse{Results: make([]ContextResult, len(results))}
	for i, res := range results {
		resp.Results[i] = ContextResult{
			MessageResponse: toMessageResponse(&res.Message),
			Similarity:      res.Similarity,
			RerankedScore:   res.RerankedScore,
			FinalScore:      res.FinalScore,
		}
		if res.Reranked() {
			resp.Reranked = true
		}
	}

	_ = utils.WriteOK(w, resp)
}

// HandleDeleteMessage handles DELETE /api/v1/conversations/{conversationID}/messages/{messageID}
func (h *ContextHandler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	id, err := utils.ParseUUID(chi.URLParam(r, "messageID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	if err := h.service.DeleteMessage(r.Context(), scope, id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

func (h *ContextHandler) scope(w http.ResponseWriter, r *http.Request) (models.Scope, bool) {
	scope, ok := middleware.GetScopeFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "")
		return models.Scope{}, false
	}
	return scope, true
}

func (h *ContextHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

func toMessageResponse(msg *models.Message) MessageResponse {
	return MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		Metadata:       msg.Metadata,
		CreatedAt:      msg.CreatedAt,
	}
}
