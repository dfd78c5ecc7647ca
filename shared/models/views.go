package models

// AccountView is the public projection of an account.
// It never exposes PasswordHash or the Alive flag.
type AccountView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"username"`
	Email       string `json:"email"`
}

// ToView projects an account into its public view.
func (a *Account) ToView() *AccountView {
	return &AccountView{
		UserID:      a.UserID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
	}
}
