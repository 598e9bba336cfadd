package handlers

import (
	telebot "gopkg.in/telebot.v3"
)

// NewStartHandler greets the user and explains how to link the chat.
func NewStartHandler(texts Catalog) Handler {
	return func(c telebot.Context) error {
		return c.Send(texts.Translator(Language(c)).T("start.greeting"))
	}
}
