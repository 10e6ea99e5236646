package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents a user in the system
type User struct {
	ID           string        `json:"id" bson:"_id" db:"id"`
	Email        string        `json:"email" bson:"email" db:"email"`
	Name         string        `json:"name,omitempty" bson:"name" db:"name"`
	TimeSessions []TimeSession `json:"time_sessions" bson:"time_sessions" db:"time_sessions"`
	Version      int64         `json:"version" bson:"version" db:"version"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// UserSummary is the public display shape of a user (sender, assignee, member)
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Summary returns the display fields of u
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// TimeSession is one daily work interval. EndTime nil means the session is ongoing.
type TimeSession struct {
	Date      time.Time  `json:"date" bson:"date"`
	StartTime time.Time  `json:"start_time" bson:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`
	TimeSpent int64      `json:"time_spent" bson:"time_spent"` // seconds
}

// Ongoing reports whether the session has not been stopped yet
func (s TimeSession) Ongoing() bool {
	return s.EndTime == nil
}

// UserCreateRequest represents the request payload for user creation
type UserCreateRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserTokenResponse represents the response payload carrying a token pair
type UserTokenResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenClaims represents the JWT token claims
type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Type   string `json:"type"` // "access" or "refresh"
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

// GetExpirationTime implements jwt.Claims interface
func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

// GetIssuedAt implements jwt.Claims interface
func (c *TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

// GetNotBefore implements jwt.Claims interface
func (c *TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (c *TokenClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements jwt.Claims interface
func (c *TokenClaims) GetSubject() (string, error) {
	return c.UserID, nil
}

// GetAudience implements jwt.Claims interface
func (c *TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}
