package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ecothreads-notify/internal/application/notification"
	"github.com/ecothreads-notify/internal/application/router"
	"github.com/ecothreads-notify/internal/domain"
	"github.com/go-chi/chi/v5"
)

// TriggerHandler exposes the event router to the services that emit domain events.
type TriggerHandler struct {
	svc router.Service
}

func NewTriggerHandler(svc router.Service) *TriggerHandler {
	return &TriggerHandler{svc: svc}
}

type subscriptionRequest struct {
	DonorID      string `json:"donor_id"`
	SubscriberID string `json:"subscriber_id"`
}

func (h *TriggerHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var in domain.NotificationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.Create(r.Context(), in)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ResultEnvelope{Result: &res})
}

func (h *TriggerHandler) Replay(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultEnvelope{Result: &res})
}

func (h *TriggerHandler) NewDonation(w http.ResponseWriter, r *http.Request) {
	var ev domain.DonationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	batch, err := h.svc.NewDonation(r.Context(), ev)
	if err != nil {
		httpError(w, err)
		return
	}
	writeBatch(w, batch)
}

func (h *TriggerHandler) SubscriberAdded(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.SubscriberAdded(r.Context(), req.DonorID, req.SubscriberID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ResultEnvelope{Result: res})
}

func (h *TriggerHandler) SweepShippedFollowups(w http.ResponseWriter, r *http.Request) {
	batch, err := h.svc.SweepShippedFollowups(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeBatch(w, batch)
}

// writeBatch always answers 200 once the batch was committed; per-record
// failures are reported in the body.
func writeBatch(w http.ResponseWriter, b *router.BatchResult) {
	if err := b.Err(); err != nil {
		slog.Warn("batch finished with record errors", "trigger", b.Trigger, "err", err)
	}
	items := make([]notification.Result, len(b.Items))
	for i, it := range b.Items {
		items[i] = it.Result
	}
	writeJSON(w, http.StatusOK, BatchEnvelope{
		Trigger:    b.Trigger,
		Sent:       b.Count(domain.OutcomeSent),
		Failed:     b.Count(domain.OutcomeFailed),
		Suppressed: b.Count(domain.OutcomeSuppressed),
		Skipped:    b.Count(domain.OutcomeSkipped),
		Items:      items,
	})
}
