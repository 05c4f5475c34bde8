package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Authorizer decides whether a request may use the administrative routes.
type Authorizer interface {
	IsAdmin(r *http.Request) bool
}

// TokenAuthorizer accepts requests carrying the configured bearer token.
// An empty token rejects everyone.
type TokenAuthorizer string

func (t TokenAuthorizer) IsAdmin(r *http.Request) bool {
	if t == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + string(t)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// AdminHandler exposes the auction lifecycle to operators
type AdminHandler struct {
	app  AuctionApp
	auth Authorizer
}

func NewAdminHandler(app AuctionApp, auth Authorizer) *AdminHandler {
	return &AdminHandler{app: app, auth: auth}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAdmin)
	r.Post("/auctions", h.createAuction)
	r.Post("/auctions/{id}/activate", h.lifecycle(h.app.Activate))
	r.Post("/auctions/{id}/finalize", h.lifecycle(h.app.Finalize))
	r.Post("/auctions/{id}/cancel", h.lifecycle(h.app.Cancel))
	return r
}

func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.IsAdmin(r) {
			writeJSONError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createAuctionBody struct {
	Format     models.AuctionFormat `json:"format"`
	Subject    models.Subject       `json:"subject"`
	StartPrice int64                `json:"start_price"`
	Duration   string               `json:"duration"`
	Activate   bool                 `json:"activate"`
	Theft      *models.TheftTerms   `json:"theft,omitempty"`
	Dark       *models.DarkTerms    `json:"dark,omitempty"`
}

func (h *AdminHandler) createAuction(w http.ResponseWriter, r *http.Request) {
	var body createAuctionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	duration, err := time.ParseDuration(body.Duration)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "duration must be a Go duration such as 2m")
		return
	}

	auction, err := h.app.CreateAuction(r.Context(), settlement.CreateAuctionRequest{
		Format:     body.Format,
		Subject:    body.Subject,
		StartPrice: body.StartPrice,
		Duration:   duration,
		Activate:   body.Activate,
		Theft:      body.Theft,
		Dark:       body.Dark,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

type lifecycleFunc func(ctx context.Context, id uuid.UUID) (*models.Auction, error)

func (h *AdminHandler) lifecycle(fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid auction id")
			return
		}

		auction, err := fn(r.Context(), id)
		if err != nil {
			writeJSONError(w, adminStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, auction)
	}
}

func adminStatus(err error) int {
	switch {
	case errors.Is(err, settlement.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrAuctionNotExpired),
		errors.Is(err, settlement.ErrWinnerUnfunded),
		errors.Is(err, rules.ErrAuctionNotActive),
		errors.Is(err, rules.ErrSettlementConflict):
		return http.StatusConflict
	}
	if _, ok := rules.ReasonOf(err); ok {
		return http.StatusUnprocessableEntity
	}
	log.Error().Err(err).Msg("administrative action failed")
	return http.StatusInternalServerError
}
