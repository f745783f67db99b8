package linkauth

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/linkauth/internal/audit"
)

// User is the identity behind a session. Metadata is free-form and owned by
// the user; it is merged, never replaced, by [Engine.UpdateUser].
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Session is the token pair handed to a client after a link is redeemed or
// a refresh token is exchanged. ExpiresAt is the access token expiry in unix
// seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

// Expiry returns ExpiresAt as a time.
func (s *Session) Expiry() time.Time {
	if s == nil {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// UserAttributes is the body of a user update. A nil value in Data removes the key.
type UserAttributes struct {
	Data map[string]any `json:"data"`
}

// UserDirectory persists users. Implementations live in the users package.
//
// GetUserByEmail and GetUserByID return [ErrUserNotFound] for unknown users;
// CreateUser returns [ErrUserExists] when the email is taken.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, email string) (*User, error)
	UpdateUserMetadata(ctx context.Context, id string, patch map[string]any) (*User, error)
}

// Mailer delivers a magic link. Implementations live in the mail package.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// AuditEvent is one audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON audit record per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs audit events through slog.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a sink that buffers up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink that logs through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
