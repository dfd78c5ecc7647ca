package cqrs

type CreateUserCommand struct {
	UserID   string
	Password string
	Username string
	Email    string
}

// UpdateUserCommand authorises with Password; empty New* fields are left untouched.
type UpdateUserCommand struct {
	UserID      string
	Password    string
	NewPassword string
	NewUsername string
	NewEmail    string
}

type DeleteUserCommand struct {
	UserID   string
	Password string
}

type LoginCommand struct {
	UserID   string
	Password string
}

type KeepAliveCommand struct {
	Token string
}

type LogoutCommand struct {
	Token string
}
