package authcore

import "time"

// TokenPair is an access token and its companion refresh envelope.
type TokenPair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

// UserInfo is the public identity slice returned by register and login.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Session couples a user with their freshly issued token pair.
type Session struct {
	User   UserInfo
	Tokens TokenPair
}

// Claims is the validated content of an access token.
type Claims struct {
	Subject   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
