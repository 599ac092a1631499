package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecothreads-notify/internal/application/mail"
)

// EmailHandler serves the verification-code e-mail call.
type EmailHandler struct {
	svc mail.Service
}

func NewEmailHandler(svc mail.Service) *EmailHandler { return &EmailHandler{svc: svc} }

type verificationRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type callErrorEnvelope struct {
	Error *mail.CallError `json:"error"`
}

func (h *EmailHandler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, callErrorEnvelope{Error: &mail.CallError{
			Kind: mail.KindInvalidArgument, Message: "invalid request body",
		}})
		return
	}
	res, err := h.svc.SendVerificationEmail(r.Context(), req.Email, req.OTP)
	if err != nil {
		var callErr *mail.CallError
		if !errors.As(err, &callErr) {
			callErr = &mail.CallError{Kind: mail.KindInternal, Message: "Email service error: " + err.Error()}
		}
		status := http.StatusInternalServerError
		if callErr.Kind == mail.KindInvalidArgument {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, callErrorEnvelope{Error: callErr})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
