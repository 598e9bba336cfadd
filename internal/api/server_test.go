package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/habitflow/notifier/internal/auth"
	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/idempotency"
	"github.com/habitflow/notifier/internal/lifecycle"
	"github.com/habitflow/notifier/internal/repository"
	"github.com/habitflow/notifier/internal/state"
	"github.com/habitflow/notifier/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Notify(ctx context.Context, username, subject, message string) error {
	return m.Called(ctx, username, subject, message).Error(0)
}

func (m *mockDispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

type readiness struct{ err error }

func (r readiness) Ready(context.Context) error { return r.err }

type fixture struct {
	handler    http.Handler
	token      string
	dispatcher *mockDispatcher
	machine    *state.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := auth.NewTokens(config.AuthConfig{
		Secret:      "0123456789abcdef0123456789abcdef",
		ServiceName: "USER-SERVICE",
		TokenTTL:    time.Hour,
	})
	require.NoError(t, err)
	token, err := tokens.ServiceToken()
	require.NoError(t, err)

	tokenCount := 0
	machine := state.NewMachine(repository.NewMemorySettingsRepository(), nil, testLogger(), nil, state.Options{
		NewToken: func() domain.LinkToken {
			tokenCount++
			return domain.LinkToken(strings.Repeat("t", tokenCount))
		},
	})
	dispatcher := &mockDispatcher{}

	srv := NewServer(Deps{
		Settings:    machine,
		Dispatcher:  dispatcher,
		Tokens:      tokens,
		Probes:      lifecycle.NewProbes(readiness{}, testLogger()),
		Errors:      apperrors.NewHandler(testLogger(), false),
		Idempotency: idempotency.NewManager(idempotency.NewMemoryStore(), testLogger()),
	}, testLogger())

	return &fixture{handler: srv.Handler(), token: token, dispatcher: dispatcher, machine: machine}
}

func (f *fixture) post(t *testing.T, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequiresServiceToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/notifications/dispatch", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Missing ROLE_SERVICE authority"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestSettingsLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/notifications/create-settings", `{"userId":7,"email":"ann@example.com","username":"ann"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/notifications/confirm-email", `{"userId":7,"email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/notifications/regenerate-tg-token", `{"userId":7,"email":"ann@example.com","username":"ann"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, http.StatusForbidden, body.Status)
	assert.Equal(t, "Forbidden", body.Error)

	rec = f.post(t, "/notifications/update-channel", `{"userId":7,"channel":"telegram"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/notifications/regenerate-tg-token", `{"userId":7,"email":"ann@example.com","username":"ann"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Telegram token regenerated successfully", rec.Body.String())

	settings, err := f.machine.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelTelegram, settings.Channel)
	assert.Equal(t, domain.LinkToken("t"), settings.Address)

	// back to EMAIL without an address on the row needs one in the request
	rec = f.post(t, "/notifications/update-channel", `{"userId":7,"channel":"EMAIL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/notifications/update-channel", `{"userId":7,"channel":"EMAIL","email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		path, body string
		message    string
	}{
		"missing user id": {"/notifications/create-settings", `{"email":"a@b.co"}`, "UserID is required"},
		"bad email":       {"/notifications/email", `{"to":"nope","subject":"s","message":"m"}`, "To: invalid email format"},
		"malformed json":  {"/notifications/dispatch", `{`, "malformed JSON body"},
		"unknown channel": {"/notifications/update-channel", `{"userId":1,"channel":"SMS"}`, `unknown channel "SMS"`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.post(t, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Contains(t, body.Message, tc.message)
			assert.Equal(t, "Bad Request", body.Error)
		})
	}
}

func TestSendEmail(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.On("SendEmail", mock.Anything, "bob@example.com", "Hi", "Body").Return(nil).Once()
	f.dispatcher.On("SendEmail", mock.Anything, "down@example.com", "Hi", "Body").
		Return(apperrors.NewSendFailedError("email", errors.New("smtp down"))).Once()

	rec := f.post(t, "/notifications/email", `{"to":"bob@example.com","subject":"Hi","message":"Body"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email sent successfully!", rec.Body.String())

	rec = f.post(t, "/notifications/email", `{"to":"down@example.com","subject":"Hi","message":"Body"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Bad Gateway", decodeError(t, rec).Error)
}

func TestDispatchDefaultsSubjectAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.On("Notify", mock.Anything, "ann", "HabitFlow Notification", "ping").Return(nil).Once()

	rec := f.post(t, "/notifications/dispatch", `{"username":"ann","message":"ping"}`, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(ReplayedHeader))

	rec = f.post(t, "/notifications/dispatch", `{"username":"ann","message":"ping"}`, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(ReplayedHeader))

	f.dispatcher.AssertNumberOfCalls(t, "Notify", 1)
}

func TestDispatchMapsErrors(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.On("Notify", mock.Anything, "ghost", mock.Anything, mock.Anything).
		Return(apperrors.NewNotFoundError("notification settings not found"))
	f.dispatcher.On("Notify", mock.Anything, "boom", mock.Anything, mock.Anything).
		Return(errors.New("unexpected"))

	rec := f.post(t, "/notifications/dispatch", `{"username":"ghost","subject":"s","message":"m"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "notification settings not found", decodeError(t, rec).Message)

	rec = f.post(t, "/notifications/dispatch", `{"username":"boom","subject":"s","message":"m"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, decodeError(t, rec).Message, "unexpected")
}

func TestProbes(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
