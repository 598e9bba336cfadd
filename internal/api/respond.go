package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	apperrors "github.com/habitflow/notifier/internal/errors"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
}

// ErrorHandler is satisfied by apperrors.Handler.
type ErrorHandler interface {
	Handle(ctx context.Context, err error) (string, bool)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewInvalidRequestError("malformed JSON body")
	}

	if err := s.validate.Struct(dst); err != nil {
		return apperrors.NewInvalidRequestError(validationMessage(err))
	}

	return nil
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s: invalid email format", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	safe, _ := s.errors.Handle(r.Context(), err)
	message := safe

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		if status < http.StatusInternalServerError {
			message = appErr.Message
		}
	}

	s.writeJSON(w, status, ErrorResponse{
		Timestamp: s.now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to write response", slog.Any("error", err))
	}
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}
