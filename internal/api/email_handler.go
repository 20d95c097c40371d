package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/taskd/internal/api/shared"
	"github.com/phrazzld/taskd/internal/service"
)

// EmailQueuedMessage is returned when an email job is accepted.
const EmailQueuedMessage = "Email queued for sending"

// EmailHandler handles notification email requests.
type EmailHandler struct {
	emails service.EmailService
	logger *slog.Logger
}

// NewEmailHandler creates a new EmailHandler
func NewEmailHandler(emails service.EmailService, logger *slog.Logger) *EmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailHandler{
		emails: emails,
		logger: logger.With(slog.String("component", "email_handler")),
	}
}

// SendEmail handles POST /api/send-email. The email is sent by a worker;
// the response carries the job ID for tracking.
func (h *EmailHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req SendEmailRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	jobID, err := h.emails.QueueEmail(r.Context(), req.Recipient, req.Subject, req.Message)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SendEmailResponse{
		Message: EmailQueuedMessage,
		TaskID:  jobID,
	})
}

// ListEmailLogs handles GET /api/email-logs?limit=&offset=.
func (h *EmailHandler) ListEmailLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logs, err := h.emails.ListEmailLogs(r.Context(), limit, offset)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list email logs")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, logs)
}
