package state

import "github.com/habitflow/notifier/internal/domain"

// Phase is the observable position of a settings row in the channel lifecycle.
type Phase struct {
	Channel domain.Channel
	Status  domain.Status
}

// PhaseNew is the position before a row exists.
var PhaseNew = Phase{}

var (
	PhaseEmailPending      = Phase{domain.ChannelEmail, domain.StatusPending}
	PhaseEmailConfirmed    = Phase{domain.ChannelEmail, domain.StatusConfirmed}
	PhaseEmailFailed       = Phase{domain.ChannelEmail, domain.StatusFailed}
	PhaseTelegramPending   = Phase{domain.ChannelTelegram, domain.StatusPending}
	PhaseTelegramConfirmed = Phase{domain.ChannelTelegram, domain.StatusConfirmed}
	PhaseTelegramFailed    = Phase{domain.ChannelTelegram, domain.StatusFailed}
	PhaseDisabled          = Phase{domain.ChannelNone, domain.StatusDisabled}
)

// PhaseOf returns the phase of s, or PhaseNew for nil.
func PhaseOf(s *domain.Settings) Phase {
	if s == nil {
		return PhaseNew
	}
	return Phase{Channel: s.Channel, Status: s.Status}
}

func (p Phase) String() string {
	if p == PhaseNew {
		return "new"
	}
	return string(p.Channel) + ":" + string(p.Status)
}
