package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/agriassist/backend/internal/api"
	"github.com/agriassist/backend/internal/middleware"
	"github.com/agriassist/backend/internal/models"
)

// UsageTracker is the quota surface the advisory handlers need. Satisfied by
// *quota.Tracker.
type UsageTracker interface {
	CurrentUsage(ctx context.Context, acc *models.Account) (*models.UsageRecord, error)
	Increment(ctx context.Context, acc *models.Account, cat models.UsageCategory) (int, error)
	History(ctx context.Context, accountID uuid.UUID) ([]*models.UsageRecord, error)
}

const maxBatchSize = 100

type Handler struct {
	predict   *PredictionClient
	weather   *WeatherClient
	chat      *ChatClient
	tracker   UsageTracker
	validator *Validator
	log       *slog.Logger
}

func NewHandler(predict *PredictionClient, weather *WeatherClient, chat *ChatClient, tracker UsageTracker, validator *Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{predict: predict, weather: weather, chat: chat, tracker: tracker, validator: validator, log: log}
}

// CropRecommendation proxies one prediction. The quota gate ran before this
// handler; the counter increments only after the upstream call succeeds, so
// a failed prediction never burns allowance.
func (h *Handler) CropRecommendation(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "failed to read body")
		return
	}
	if err := h.validator.ValidateSoilParameters(raw); err != nil {
		api.ValidationError(w, r, []api.FieldError{{Field: "body", Message: err.Error()}})
		return
	}
	var params SoilParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	rec, err := h.predict.Recommend(r.Context(), params)
	if err != nil {
		h.upstreamError(w, r, "crop recommendation", err)
		return
	}
	h.count(r.Context(), acc, models.CategoryCropRecommendations)
	api.Success(w, r, http.StatusOK, "crop recommendation", rec)
}

// CropRecommendationBatch proxies up to 100 predictions in one call. One
// quota unit per set of parameters.
func (h *Handler) CropRecommendationBatch(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	var rawItems []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&rawItems); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	if len(rawItems) == 0 || len(rawItems) > maxBatchSize {
		api.ValidationError(w, r, []api.FieldError{{Field: "body", Message: "between 1 and 100 parameter sets required", Value: len(rawItems)}})
		return
	}
	params := make([]SoilParameters, len(rawItems))
	for i, item := range rawItems {
		if err := h.validator.ValidateSoilParameters(item); err != nil {
			api.ValidationError(w, r, []api.FieldError{{Field: "body", Message: err.Error()}})
			return
		}
		if err := json.Unmarshal(item, &params[i]); err != nil {
			api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
			return
		}
	}
	recs, err := h.predict.RecommendBatch(r.Context(), params)
	if err != nil {
		h.upstreamError(w, r, "batch crop recommendation", err)
		return
	}
	for range params {
		h.count(r.Context(), acc, models.CategoryCropRecommendations)
	}
	api.Success(w, r, http.StatusOK, "crop recommendations", recs)
}

// Crops passes through the model's crop list. Unmetered.
func (h *Handler) Crops(w http.ResponseWriter, r *http.Request) {
	out, err := h.predict.Crops(r.Context())
	if err != nil {
		h.upstreamError(w, r, "crop list", err)
		return
	}
	api.Success(w, r, http.StatusOK, "available crops", out)
}

// ModelInfo passes through the prediction service's model metadata. Unmetered.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	out, err := h.predict.ModelInfo(r.Context())
	if err != nil {
		h.upstreamError(w, r, "model info", err)
		return
	}
	api.Success(w, r, http.StatusOK, "model info", out)
}

// Weather looks up current conditions for ?location=, defaulting to the
// account's own location. Unmetered.
func (h *Handler) Weather(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	location := r.URL.Query().Get("location")
	if location == "" {
		location = acc.Location
	}
	if location == "" {
		api.ValidationError(w, r, []api.FieldError{{Field: "location", Message: "is required when the account has no location"}})
		return
	}
	out, err := h.weather.Current(r.Context(), location)
	if err != nil {
		h.upstreamError(w, r, "weather lookup", err)
		return
	}
	api.Success(w, r, http.StatusOK, "current weather", out)
}

// Chat forwards one message to the assistant provider.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "failed to read body")
		return
	}
	if err := h.validator.ValidateChatMessage(raw); err != nil {
		api.ValidationError(w, r, []api.FieldError{{Field: "message", Message: err.Error()}})
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	reply, err := h.chat.Send(r.Context(), req.Message)
	if err != nil {
		h.upstreamError(w, r, "chat", err)
		return
	}
	h.count(r.Context(), acc, models.CategoryChatMessages)
	api.Success(w, r, http.StatusOK, "assistant reply", map[string]string{"reply": reply})
}

// Usage returns the account's current month counters and ceilings plus the
// prior months' records.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	current, err := h.tracker.CurrentUsage(r.Context(), acc)
	if err != nil {
		h.log.Error("usage lookup failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "usage lookup failed")
		return
	}
	history, err := h.tracker.History(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("usage history failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "usage lookup failed")
		return
	}
	api.Success(w, r, http.StatusOK, "usage", map[string]any{
		"current": current,
		"history": history,
	})
}

// count increments the quota counter after a successful upstream call. Best
// effort: the user already got their response.
func (h *Handler) count(ctx context.Context, acc *models.Account, cat models.UsageCategory) {
	if _, err := h.tracker.Increment(ctx, acc, cat); err != nil {
		h.log.Error("usage increment failed", "category", cat, "account", acc.ID, "error", err)
	}
}

func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrUpstream) {
		h.log.Warn(op+" upstream failed", "error", err)
		api.Error(w, r, http.StatusBadGateway, api.CodeUpstreamUnavailable, op+" is temporarily unavailable")
		return
	}
	h.log.Error(op+" failed", "error", err)
	api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, op+" failed")
}
