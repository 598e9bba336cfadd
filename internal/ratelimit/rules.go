package ratelimit

import (
	"errors"
	"time"

	"github.com/habitflow/notifier/pkg/config"
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// IsWhitelisted returns true if the chat bypasses rate limits.
func (r *Rules) IsWhitelisted(chatID int64) bool {
	for _, id := range r.config.Whitelist {
		if id == chatID {
			return true
		}
	}
	return false
}

// LinkAttemptLimit returns how many link attempts a chat may make per window.
func (r *Rules) LinkAttemptLimit() (int, time.Duration, error) {
	return parseRule(r.config.LinkAttempts)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}
