package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel is the delivery medium selected by a user.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelTelegram Channel = "TELEGRAM"
	ChannelNone     Channel = "NONE"
)

// ParseChannel accepts channel names case-insensitively.
func ParseChannel(raw string) (Channel, error) {
	switch Channel(strings.ToUpper(strings.TrimSpace(raw))) {
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelTelegram:
		return ChannelTelegram, nil
	case ChannelNone:
		return ChannelNone, nil
	default:
		return "", fmt.Errorf("unknown channel %q", raw)
	}
}

// Status tracks whether the selected channel is usable.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusDisabled  Status = "DISABLED"
)

// AddressKind is the persisted discriminator of an Address.
type AddressKind string

const (
	AddressKindNone      AddressKind = "none"
	AddressKindEmail     AddressKind = "email"
	AddressKindLinkToken AddressKind = "link_token"
	AddressKindChatID    AddressKind = "chat_id"
)

// Address is the channel-specific destination. Only the variants in this package implement it.
type Address interface {
	Kind() AddressKind
	String() string
	isAddress()
}

// EmailAddress is a mailbox for the EMAIL channel.
type EmailAddress string

func (EmailAddress) Kind() AddressKind { return AddressKindEmail }
func (a EmailAddress) String() string  { return string(a) }
func (EmailAddress) isAddress()        {}

// LinkToken is a one-time code waiting to be claimed by a Telegram chat.
type LinkToken string

func (LinkToken) Kind() AddressKind { return AddressKindLinkToken }
func (t LinkToken) String() string  { return string(t) }
func (LinkToken) isAddress()        {}

// ChatID identifies a linked Telegram chat.
type ChatID int64

func (ChatID) Kind() AddressKind { return AddressKindChatID }
func (c ChatID) String() string  { return strconv.FormatInt(int64(c), 10) }
func (ChatID) isAddress()        {}

// KindOf returns the discriminator for addr, treating nil as none.
func KindOf(addr Address) AddressKind {
	if addr == nil {
		return AddressKindNone
	}
	return addr.Kind()
}

// EncodeAddress splits addr into its stored value and kind. A nil address has no value.
func EncodeAddress(addr Address) (*string, AddressKind) {
	if addr == nil {
		return nil, AddressKindNone
	}
	value := addr.String()
	return &value, addr.Kind()
}

// DecodeAddress rebuilds an Address from its stored representation.
func DecodeAddress(value *string, kind AddressKind) (Address, error) {
	switch kind {
	case AddressKindNone, "":
		return nil, nil
	}

	if value == nil {
		return nil, fmt.Errorf("address kind %q without value", kind)
	}

	switch kind {
	case AddressKindEmail:
		return EmailAddress(*value), nil
	case AddressKindLinkToken:
		return LinkToken(*value), nil
	case AddressKindChatID:
		id, err := strconv.ParseInt(*value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode chat id %q: %w", *value, err)
		}
		return ChatID(id), nil
	default:
		return nil, fmt.Errorf("unknown address kind %q", kind)
	}
}

// Settings is the per-user notification configuration.
type Settings struct {
	ID        int64
	UserID    int64
	Channel   Channel
	Address   Address
	Enabled   bool
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiryAt  *time.Time
}

var ErrInvalidSettings = errors.New("invalid notification settings")

// Validate enforces the channel/address/status combinations allowed at rest.
func (s *Settings) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil settings", ErrInvalidSettings)
	}

	kind := KindOf(s.Address)

	switch s.Channel {
	case ChannelNone:
		if kind != AddressKindNone || s.Status != StatusDisabled {
			return fmt.Errorf("%w: NONE requires no address and DISABLED status", ErrInvalidSettings)
		}
	case ChannelEmail:
		if kind != AddressKindEmail {
			return fmt.Errorf("%w: EMAIL requires an email address, got %s", ErrInvalidSettings, kind)
		}
		if s.Status == StatusDisabled {
			return fmt.Errorf("%w: EMAIL cannot be DISABLED", ErrInvalidSettings)
		}
	case ChannelTelegram:
		switch s.Status {
		case StatusPending:
			if kind == AddressKindLinkToken && s.ExpiryAt == nil {
				return fmt.Errorf("%w: link token without expiry", ErrInvalidSettings)
			}
			if kind != AddressKindNone && kind != AddressKindLinkToken {
				return fmt.Errorf("%w: pending TELEGRAM holds %s", ErrInvalidSettings, kind)
			}
		case StatusConfirmed:
			if kind != AddressKindChatID {
				return fmt.Errorf("%w: confirmed TELEGRAM requires a chat id", ErrInvalidSettings)
			}
		case StatusFailed:
			// advisory marker, address kept as it was
		default:
			return fmt.Errorf("%w: TELEGRAM cannot be %s", ErrInvalidSettings, s.Status)
		}
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidSettings, s.Channel)
	}

	if s.Status == StatusDisabled && s.Channel != ChannelNone {
		return fmt.Errorf("%w: DISABLED is reserved for NONE", ErrInvalidSettings)
	}

	return nil
}

// LinkTokenExpired reports whether s holds an unclaimed link token whose expiry has passed.
func (s *Settings) LinkTokenExpired(now time.Time) bool {
	if s == nil || s.Channel != ChannelTelegram {
		return false
	}
	if _, ok := s.Address.(LinkToken); !ok {
		return false
	}
	return s.ExpiryAt != nil && !s.ExpiryAt.After(now)
}

// LinkedChat returns the linked chat when the row is a confirmed Telegram channel.
func (s *Settings) LinkedChat() (ChatID, bool) {
	if s == nil || s.Channel != ChannelTelegram || s.Status != StatusConfirmed {
		return 0, false
	}
	chat, ok := s.Address.(ChatID)
	return chat, ok
}

// RecordID and OwnerID let the reaper sweep settings rows.
func (s *Settings) RecordID() int64 { return s.ID }
func (s *Settings) OwnerID() int64  { return s.UserID }
