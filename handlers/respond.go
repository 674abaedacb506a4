package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"paste-analytics-service/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// respondError writes the typed error with its mapped HTTP status.
func respondError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// errorStatus maps the error types in models onto HTTP statuses:
// 404 / 410 / 503 / 400, anything unclassified is a 500.
func errorStatus(err error) int {
	var (
		notFound    *models.NotFoundError
		expired     *models.ExpiredError
		unavailable *models.ServiceUnavailableError
		validation  *models.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &expired):
		return http.StatusGone
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &validation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
