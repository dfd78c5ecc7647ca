package cqrs

// GetUserQuery fetches the public view of a single live account.
type GetUserQuery struct {
	UserID string
}
