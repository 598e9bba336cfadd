package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/habitflow/notifier/internal/auth"
	"github.com/habitflow/notifier/internal/dispatch"
	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/idempotency"
)

const (
	emailSentMessage        = "Email sent successfully!"
	tokenRegeneratedMessage = "Telegram token regenerated successfully"
)

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.dispatcher.SendEmail(r.Context(), req.To, req.Subject, req.Message); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeText(w, emailSentMessage)
}

func (s *Server) createSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.settings.CreateInitial(r.Context(), *req.UserID, req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) confirmEmail(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.settings.ConfirmEmail(r.Context(), *req.UserID, req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) updateChannel(w http.ResponseWriter, r *http.Request) {
	var req UpdateChannelRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	channel, err := domain.ParseChannel(req.Channel)
	if err != nil {
		s.writeError(w, r, apperrors.NewInvalidRequestError(err.Error()))
		return
	}

	current, err := s.settings.Get(r.Context(), *req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	email := req.Email
	if addr, ok := current.Address.(domain.EmailAddress); ok {
		email = string(addr)
	}

	if _, err := s.settings.SwitchChannel(r.Context(), *req.UserID, channel, email); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) regenerateToken(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.settings.RegenerateLinkToken(r.Context(), *req.UserID, req.Email, req.Username); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeText(w, tokenRegeneratedMessage)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Subject == "" {
		req.Subject = dispatch.DefaultSubject
	}

	key := r.Header.Get(IdempotencyHeader)
	if key == "" || s.idem == nil {
		if err := s.dispatcher.Notify(r.Context(), req.Username, req.Subject, req.Message); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	caller, _ := auth.CallerFromContext(r.Context())
	result, err := s.idem.Execute(r.Context(), idempotency.GenerateKey("dispatch", caller, key), s.idemTTL,
		func(ctx context.Context) (any, error) {
			return nil, s.dispatcher.Notify(ctx, req.Username, req.Subject, req.Message)
		})
	if errors.Is(err, idempotency.ErrRequestInProgress) {
		s.writeError(w, r, apperrors.NewConflictError("a dispatch with this idempotency key is in progress", err))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if result.FromCache {
		w.Header().Set(ReplayedHeader, "true")
	}
	w.WriteHeader(http.StatusOK)
}
