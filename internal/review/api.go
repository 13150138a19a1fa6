package review

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/ledger"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Server exposes the review queue and the audit export over HTTP.
type Server struct {
	queue   *Queue
	storage service.Storage
	ledger  *ledger.Log
}

// NewServer creates the HTTP surface.
func NewServer(queue *Queue, storage service.Storage, log *ledger.Log) *Server {
	return &Server{queue: queue, storage: storage, ledger: log}
}

// Routes returns the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /review/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /review/{tenantID}/pending", s.handlePending)
	mux.HandleFunc("GET /audit/{tenantID}", s.handleAuditExport)
	return mux
}

type resolveRequest struct {
	Decision            string `json:"decision"`
	ReviewerID          string `json:"reviewerId"`
	SelectedCandidateID string `json:"selectedCandidateId,omitempty"`
}

type resolveResponse struct {
	ReviewItemID  string `json:"reviewItemId"`
	TransactionID string `json:"transactionId,omitempty"`
	ObligationID  string `json:"obligationId,omitempty"`
	Action        string `json:"action,omitempty"`
	Status        string `json:"status"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.queue.Resolve(r.Context(), Resolution{
		ReviewItemID:        id,
		ReviewerID:          req.ReviewerID,
		SelectedCandidateID: req.SelectedCandidateID,
		Decision:            model.ReviewStatus(req.Decision),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := resolveResponse{
		ReviewItemID: id,
		Status:       req.Decision,
	}
	if result != nil {
		resp.TransactionID = result.TransactionID
		resp.ObligationID = result.ObligationID
		resp.Action = string(result.Action)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	items, err := s.storage.GetPendingReviewItems(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// auditEntry is the export shape for one ledger entry. Payload is
// emitted verbatim so the export is byte-stable and hashes reproduce.
type auditEntry struct {
	SequenceNo int64           `json:"sequenceNo"`
	PrevHash   string          `json:"prevHash"`
	EntryHash  string          `json:"entryHash"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type auditExport struct {
	TenantID     string       `json:"tenantId"`
	Entries      []auditEntry `json:"entries"`
	Digest       string       `json:"digest,omitempty"`
	ChainValid   bool         `json:"chainValid"`
	FirstInvalid int          `json:"firstInvalid"`
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	filter, err := parseLedgerFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := s.storage.GetLedgerEntries(r.Context(), tenantID, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Verification always runs over the complete chain, independent of
	// the export window.
	verification, err := s.ledger.Verify(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	export := auditExport{
		TenantID:     tenantID,
		Entries:      make([]auditEntry, 0, len(entries)),
		Digest:       verification.Digest,
		ChainValid:   verification.Valid,
		FirstInvalid: verification.FirstInvalid,
	}
	for _, e := range entries {
		export.Entries = append(export.Entries, auditEntry{
			SequenceNo: e.SequenceNo,
			PrevHash:   e.PrevHash,
			EntryHash:  e.EntryHash,
			Payload:    json.RawMessage(e.Payload),
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, export)
}

func parseLedgerFilter(r *http.Request) (service.LedgerFilter, error) {
	var filter service.LedgerFilter
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, errors.New("invalid 'from' timestamp, want RFC3339")
		}
		filter.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, errors.New("invalid 'to' timestamp, want RFC3339")
		}
		filter.To = t
	}
	return filter, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, common.ErrMissingTenantConfig):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("Request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
