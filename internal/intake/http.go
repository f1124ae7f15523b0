package intake

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/framework/log"
)

// Handler exposes the intake worker over HTTP for MTA pipe transports
// that deliver by HTTP POST instead of invoking a CLI subprocess, and for
// the operator-facing `POST /intake/test?vaultbox_id=` diagnostic path.
type Handler struct {
	Worker *Worker
	Log    log.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	vaultboxID := r.URL.Query().Get("vaultbox_id")
	if vaultboxID == "" {
		writeIntakeError(w, exterrors.Validation("MISSING_VAULTBOX_ID", "vaultbox_id query parameter is required"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		writeIntakeError(w, exterrors.Validation("BODY_READ_ERROR", "failed to read request body"))
		return
	}

	msg, err := h.Worker.Deliver(r.Context(), vaultboxID, body)
	if err != nil {
		// Deliver tags err with "vaultbox_id" via exterrors.WithFields;
		// Logger.Error picks that field up through exterrors.Fields
		// without it being repeated here.
		h.Log.Error("intake: delivery failed", err)
		writeIntakeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message_id": msg.ID,
		"size_bytes": msg.SizeBytes,
	})
}

func writeIntakeError(w http.ResponseWriter, err error) {
	de := exterrors.AsDomain(err)
	status := de.Status
	// Per §4.4: intake failures are surfaced as 4xx (temporary, MTA
	// should retry) vs 5xx (permanent) rather than the API's own status
	// vocabulary; a "transient" domain error becomes a 4xx here so the
	// MTA's queueing logic treats it as retryable.
	if de.Temporary() {
		status = http.StatusTooManyRequests
	} else if de.Kind == "validation" || de.Kind == "not_found" {
		status = http.StatusBadRequest
	} else {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": de.Message,
		"code":  de.Code,
	})
}

// DeliverFromPipe runs the delivery synchronously, for the CLI pipe entry
// point invoked directly by the MTA. The caller maps the returned error's
// Temporary() to the subprocess exit code the MTA interprets as "retry".
func DeliverFromPipe(ctx context.Context, w *Worker, vaultboxID string, rfc822 []byte) (*Message, error) {
	msg, err := w.Deliver(ctx, vaultboxID, rfc822)
	if err != nil {
		return nil, err
	}
	return &Message{ID: msg.ID, SizeBytes: msg.SizeBytes}, nil
}

// Message is the minimal result surfaced to the pipe entry point.
type Message struct {
	ID        string
	SizeBytes int64
}
