package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelrank/reelrank/internal/catalog"
	"github.com/reelrank/reelrank/internal/comparison"
	"github.com/reelrank/reelrank/internal/domain"
	"github.com/reelrank/reelrank/internal/rater"
	"github.com/reelrank/reelrank/internal/repository"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type beginRatingRequest struct {
	ExternalID *string  `json:"externalId"`
	Title      string   `json:"title"`
	Tier       string   `json:"tier"`
	Genres     []string `json:"genres"`
}

type compareRequest struct {
	Pick string `json:"pick"`
}

type reRankRequest struct {
	Tier string `json:"tier"`
}

type itemResponse struct {
	ID               string    `json:"id"`
	ExternalID       *string   `json:"externalId,omitempty"`
	Title            string    `json:"title"`
	Category         string    `json:"category"`
	Tier             string    `json:"tier"`
	Score            float64   `json:"score"`
	OriginalScore    float64   `json:"originalScore"`
	ComparisonsCount int       `json:"comparisonsCount"`
	Genres           []string  `json:"genres"`
	State            string    `json:"state"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type candidateResponse struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Tier  string  `json:"tier"`
	Score float64 `json:"score"`
}

type comparisonResponse struct {
	SessionID string            `json:"sessionId"`
	Candidate candidateResponse `json:"candidate"`
	Decided   int               `json:"decided"`
}

type changeResponse struct {
	ItemID   string  `json:"itemId"`
	Title    string  `json:"title"`
	OldScore float64 `json:"oldScore"`
	NewScore float64 `json:"newScore"`
}

type outcomeResponse struct {
	Item    itemResponse     `json:"item"`
	Rank    int              `json:"rank"`
	Changes []changeResponse `json:"changes"`
}

type progressResponse struct {
	Comparison *comparisonResponse `json:"comparison,omitempty"`
	Result     *outcomeResponse    `json:"result,omitempty"`
}

type listResponse struct {
	Items []itemResponse `json:"items"`
}

type aggregateResponse struct {
	ContentID     string  `json:"contentId"`
	AverageRating float64 `json:"averageRating"`
	RatingCount   int64   `json:"ratingCount"`
	Title         string  `json:"title"`
	Category      string  `json:"category"`
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	category, err := decodeCategoryParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	items, err := s.rater.List(r.Context(), userID, category)
	if err != nil {
		s.logger.Printf("list ratings error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load list")
		return
	}

	resp := listResponse{Items: make([]itemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toItemResponse(item))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBeginRating(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	category, err := decodeCategoryParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var req beginRatingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tier must be one of liked, neutral, disliked")
		return
	}
	externalID := normalizeStringPtr(req.ExternalID)
	title := strings.TrimSpace(req.Title)
	if title == "" && externalID == nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title or externalId is required")
		return
	}

	progress, err := s.rater.InsertNew(r.Context(), rater.BeginParams{
		UserID:     userID,
		ExternalID: externalID,
		Title:      title,
		Category:   category,
		Tier:       tier,
		Genres:     req.Genres,
	})
	if err != nil {
		s.respondServiceError(w, err, "Failed to begin rating")
		return
	}
	s.respondJSON(w, http.StatusCreated, toProgressResponse(progress))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "missing session id")
		return
	}

	var req compareRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	pick, err := comparison.ParsePick(req.Pick)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pick must be one of existing, new, too-close")
		return
	}

	progress, err := s.rater.Compare(r.Context(), userID, sessionID, pick)
	if err != nil {
		s.respondServiceError(w, err, "Failed to apply comparison")
		return
	}
	s.respondJSON(w, http.StatusOK, toProgressResponse(progress))
}

func (s *Server) handleReRank(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	category, err := decodeCategoryParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	itemID := chi.URLParam(r, "itemID")

	var req reRankRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tier must be one of liked, neutral, disliked")
		return
	}

	progress, err := s.rater.ReRank(r.Context(), userID, category, itemID, tier)
	if err != nil {
		s.respondServiceError(w, err, "Failed to re-rank item")
		return
	}
	s.respondJSON(w, http.StatusOK, toProgressResponse(progress))
}

func (s *Server) handleDeleteRating(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	category, err := decodeCategoryParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	itemID := chi.URLParam(r, "itemID")

	changes, err := s.rater.Delete(r.Context(), userID, category, itemID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to delete rating")
		return
	}

	resp := struct {
		Changes []changeResponse `json:"changes"`
	}{Changes: toChangeResponses(changes)}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAggregate(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	if contentID == "" {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "missing content id")
		return
	}

	agg, err := s.rater.Aggregate(r.Context(), contentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
			return
		}
		s.logger.Printf("get aggregate error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch aggregate")
		return
	}

	s.respondJSON(w, http.StatusOK, aggregateResponse{
		ContentID:     agg.ID,
		AverageRating: agg.Average,
		RatingCount:   agg.RatingCount,
		Title:         agg.Title,
		Category:      string(agg.Category),
	})
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, rater.ErrDuplicateRating):
		s.respondError(w, http.StatusConflict, "DUPLICATE_RATING", "Content already rated")
	case errors.Is(err, rater.ErrSessionNotFound):
		s.respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Comparison session not found or expired")
	case errors.Is(err, repository.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, catalog.ErrNotFound):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown external content id")
	default:
		s.logger.Printf("rating service error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return "", false
	}
	return userID, true
}

func decodeCategoryParam(r *http.Request) (domain.Category, error) {
	raw := chi.URLParam(r, "category")
	if raw == "" {
		return "", fmt.Errorf("missing category parameter")
	}
	category, err := domain.ParseCategory(raw)
	if err != nil {
		return "", fmt.Errorf("category must be movie or show")
	}
	return category, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Printf("failed to encode response: %v", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token == s.cfg.AuthToken
}

func toItemResponse(item domain.RatedItem) itemResponse {
	return itemResponse{
		ID:               item.ID,
		ExternalID:       item.ExternalID,
		Title:            item.Title,
		Category:         string(item.Category),
		Tier:             string(item.Tier),
		Score:            item.Score,
		OriginalScore:    item.OriginalScore,
		ComparisonsCount: item.ComparisonsCount,
		Genres:           item.Genres,
		State:            string(item.State),
		UpdatedAt:        item.UpdatedAt,
	}
}

func toProgressResponse(progress rater.Progress) progressResponse {
	var resp progressResponse
	if progress.Comparison != nil {
		resp.Comparison = &comparisonResponse{
			SessionID: progress.Comparison.SessionID,
			Candidate: candidateResponse{
				ID:    progress.Comparison.Candidate.ID,
				Title: progress.Comparison.Candidate.Title,
				Tier:  string(progress.Comparison.Candidate.Tier),
				Score: progress.Comparison.Candidate.Score,
			},
			Decided: progress.Comparison.Decided,
		}
	}
	if progress.Outcome != nil {
		resp.Result = &outcomeResponse{
			Item:    toItemResponse(progress.Outcome.Item),
			Rank:    progress.Outcome.Rank,
			Changes: toChangeResponses(progress.Outcome.Changes),
		}
	}
	return resp
}

func toChangeResponses(changes []domain.ScoreChange) []changeResponse {
	out := make([]changeResponse, 0, len(changes))
	for _, change := range changes {
		out = append(out, changeResponse{
			ItemID:   change.Item.ID,
			Title:    change.Item.Title,
			OldScore: change.OldScore,
			NewScore: change.NewScore,
		})
	}
	return out
}

func normalizeStringPtr(ptr *string) *string {
	if ptr == nil {
		return nil
	}
	val := strings.TrimSpace(*ptr)
	if val == "" {
		return nil
	}
	return &val
}
