package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

// emptyTwiML acknowledges a Twilio webhook without a message; replies go out through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// internalErrorBody is written when a payload cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: cannot marshal static response: " + err.Error())
	}
	return b
}

// writeJSONResponse encodes response as the body with statusCode. Encoding
// happens before any header is written so a failure can still become a 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err, "status", statusCode)
		body, statusCode = internalErrorBody, http.StatusInternalServerError
	}
	writeBody(w, statusCode, "application/json", body)
}

// writeTwiMLResponse answers a Twilio webhook with an empty TwiML document.
func writeTwiMLResponse(w http.ResponseWriter) {
	writeBody(w, http.StatusOK, "text/xml", []byte(emptyTwiML))
}

func writeBody(w http.ResponseWriter, statusCode int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeBody: failed to write response", "error", err, "content_type", contentType)
	}
}
