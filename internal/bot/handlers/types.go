// Package handlers holds the Telegram update handlers.
package handlers

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/i18n"
)

// Handler processes one update.
type Handler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// Catalog resolves reply texts for a language.
type Catalog interface {
	Translator(lang string) i18n.Translator
}

// Language returns the sender's client language, or "" when unknown.
func Language(c telebot.Context) string {
	if c == nil || c.Sender() == nil {
		return ""
	}
	return c.Sender().LanguageCode
}
