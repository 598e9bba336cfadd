package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	telebot "gopkg.in/telebot.v3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPLoggerPassesResponseThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /notifications/dispatch", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	})
	handler := New(testLogger())(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notifications/dispatch", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
	assert.Equal(t, "nope", rec.Body.String())
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _ = rec.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, rec.status)
}

func TestExtractIdempotencyKey(t *testing.T) {
	b, err := telebot.NewBot(telebot.Settings{Offline: true})
	assert.NoError(t, err)

	byUpdate := b.NewContext(telebot.Update{ID: 5, Message: &telebot.Message{ID: 9, Chat: &telebot.Chat{ID: 3}}})
	assert.Equal(t, "update:5", extractIdempotencyKey(byUpdate))

	byMessage := b.NewContext(telebot.Update{Message: &telebot.Message{ID: 9, Chat: &telebot.Chat{ID: 3}}})
	assert.Equal(t, "msg:3:9", extractIdempotencyKey(byMessage))

	assert.Equal(t, "", extractIdempotencyKey(b.NewContext(telebot.Update{})))
}

func TestUpdateKind(t *testing.T) {
	b, err := telebot.NewBot(telebot.Settings{Offline: true})
	assert.NoError(t, err)

	ctx := func(text string) telebot.Context {
		return b.NewContext(telebot.Update{Message: &telebot.Message{Text: text, Chat: &telebot.Chat{ID: 1}}})
	}

	assert.Equal(t, "/start", updateKind(ctx("/start@habitflow_bot")))
	assert.Equal(t, "text", updateKind(ctx("abc123def0")))
	assert.Equal(t, "other", updateKind(ctx("")))
}

func TestMetricsMiddlewarePassesError(t *testing.T) {
	b, err := telebot.NewBot(telebot.Settings{Offline: true})
	assert.NoError(t, err)
	c := b.NewContext(telebot.Update{Message: &telebot.Message{Text: "/start", Chat: &telebot.Chat{ID: 1}}})

	boom := errors.New("boom")
	assert.ErrorIs(t, Metrics(func(telebot.Context) error { return boom })(c), boom)
	assert.NoError(t, Metrics(func(telebot.Context) error { return nil })(c))
}
