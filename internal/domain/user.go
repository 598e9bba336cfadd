package domain

// User is the directory projection this service needs to route a notification.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
