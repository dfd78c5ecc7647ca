package models

import "time"

// Account is the durable identity record. Alive is the soft-delete flag:
// once false the row stays in place but is treated as gone.
type Account struct {
	ID           int64     `json:"-"`
	UserID       string    `json:"userId"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"username"`
	Email        string    `json:"email"`
	Alive        bool      `json:"-"`
	CreatedAt    time.Time `json:"createdTimestamp"`
	UpdatedAt    time.Time `json:"updatedTimestamp"`
}

// LoginResult tells the client which chat server to connect to and which
// session token to present there.
type LoginResult struct {
	ServerIP   string `json:"serverIp"`
	ServerPort string `json:"serverPort"`
	SessionID  string `json:"sessionId"`
}
