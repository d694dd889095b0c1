package authapi

import "time"

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	ThemePreference *string `json:"theme_preference"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	ThemePreference string    `json:"theme_preference"`
	EmailVerified   bool      `json:"email_verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// tokensResponse carries the credentials issued at login. AccessToken is empty when JWT access
// tokens are disabled.
type tokensResponse struct {
	AccessToken     string     `json:"access_token,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	APIToken        string     `json:"api_token"`
}

type loginResponse struct {
	User   userResponse   `json:"user"`
	Tokens tokensResponse `json:"tokens"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type passwordChangeResponse struct {
	APIToken string `json:"api_token"`
}
