package api

// EmailRequest sends a plain email to an arbitrary recipient.
type EmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// SettingsRequest is shared by create-settings, confirm-email and regenerate-tg-token.
type SettingsRequest struct {
	UserID   *int64 `json:"userId" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username"`
}

// UpdateChannelRequest selects a delivery channel. Email is only consulted when
// switching to EMAIL from a row that has no email address.
type UpdateChannelRequest struct {
	UserID  *int64 `json:"userId" validate:"required"`
	Channel string `json:"channel" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
}

// DispatchRequest notifies a user through their active channel.
type DispatchRequest struct {
	Username string `json:"username" validate:"required"`
	Subject  string `json:"subject"`
	Message  string `json:"message" validate:"required"`
}
