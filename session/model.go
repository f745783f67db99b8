package session

// Session is the server-side record behind an access/refresh token pair.
// SessionID is carried in the key, not the encoded blob.
type Session struct {
	SessionID string
	UserID    string
	Email     string

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
