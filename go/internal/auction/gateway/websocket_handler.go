package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
)

// SnapshotProvider supplies the first frame of a watcher connection.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, auctionID uuid.UUID) (*rpc.PushMessage, error)
}

// WebSocketHandler handles upgrade requests for auction watchers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	snapshots         SnapshotProvider
}

func NewWebSocketHandler(cm *ConnectionManager, snapshots SnapshotProvider) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		snapshots:         snapshots,
	}
}

// HandleAuctionConnection serves /ws/auction?auction_id=...&bidder_id=...
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	auctionIDStr := r.URL.Query().Get("auction_id")
	if auctionIDStr == "" {
		http.Error(w, "auction_id is required", http.StatusBadRequest)
		return
	}
	auctionID, err := uuid.Parse(auctionIDStr)
	if err != nil {
		http.Error(w, "invalid auction_id format", http.StatusBadRequest)
		return
	}

	bidderID := r.URL.Query().Get("bidder_id")
	if bidderID == "" {
		bidderID = "anonymous"
	}

	snapshot, err := h.snapshots.Snapshot(r.Context(), auctionID)
	if errors.Is(err, settlement.ErrAuctionNotFound) {
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to load auction snapshot")
		http.Error(w, "failed to load auction", http.StatusInternalServerError)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, bidderID, auctionID, snapshot); err != nil {
		// the upgrader already replied
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID).
			Msg("failed to upgrade websocket connection")
	}
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
