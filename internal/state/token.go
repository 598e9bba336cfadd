package state

import (
	"strings"

	"github.com/google/uuid"

	"github.com/habitflow/notifier/internal/domain"
)

const linkTokenLength = 10

// NewLinkToken returns the first ten hex characters of a random UUID.
func NewLinkToken() domain.LinkToken {
	return domain.LinkToken(strings.ReplaceAll(uuid.NewString(), "-", "")[:linkTokenLength])
}
