package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/linking"
)

// NewLinkHandler hands plain text messages to the linking queue. The reply is sent by the linking worker.
func NewLinkHandler(queue linking.Queue, texts Catalog, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}

		ev := linking.Event{
			UpdateID: c.Update().ID,
			ChatID:   domain.ChatID(chat.ID),
			Text:     c.Text(),
			Language: Language(c),
		}

		if queue.Offer(ev) {
			return nil
		}

		log.Warn("linking queue full, dropping update",
			slog.Int("update_id", ev.UpdateID),
			slog.Int64("chat_id", chat.ID),
		)
		return c.Send(texts.Translator(ev.Language).T("link.busy"))
	}
}
