package linkauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/linkauth/internal"
	"github.com/MrEthical07/linkauth/jwt"
	"github.com/MrEthical07/linkauth/session"
	"github.com/redis/go-redis/v9"
)

const tokenTypeBearer = "bearer"

// issueSession stores a fresh session for user and mints its token pair.
// The session lifetime is absolute; access tokens never outlive it.
func (e *Engine) issueSession(ctx context.Context, user *User) (*Session, string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, "", err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, "", err
	}

	now := e.now()
	lifetime := e.config.Session.Lifetime
	record := &session.Session{
		SessionID:   sid.String(),
		UserID:      user.ID,
		Email:       user.Email,
		RefreshHash: internal.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(lifetime).Unix(),
	}
	if err := e.sessionStore.Save(ctx, record, lifetime); err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, "", wrapUnavailable(err)
		}
		return nil, "", err
	}

	sess, err := e.mintSession(record, secret, user)
	if err != nil {
		return nil, "", err
	}

	e.metricInc(MetricSessionCreated)
	return sess, record.SessionID, nil
}

func (e *Engine) mintSession(record *session.Session, secret [32]byte, user *User) (*Session, error) {
	access, expiresAt, err := e.jwtManager.CreateAccess(record.UserID, record.SessionID, record.Email, time.Unix(record.ExpiresAt, 0))
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(record.SessionID, secret)
	if err != nil {
		return nil, err
	}

	expiresIn := int64(expiresAt.Sub(e.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    expiresIn,
		ExpiresAt:    expiresAt.Unix(),
		User:         user,
	}, nil
}

// authenticate checks an access token and, in ModeStrict, that its session
// is still live. It does not touch the user directory.
func (e *Engine) authenticate(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrTokenInvalid
	}

	if e.config.ValidationMode == ModeJWTOnly {
		return claims, nil
	}

	sess, err := e.sessionStore.Get(ctx, claims.SID)
	if err != nil {
		switch {
		case errors.Is(err, redis.Nil):
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrRedisUnavailable):
			return nil, wrapUnavailable(err)
		default:
			return nil, ErrTokenInvalid
		}
	}
	if sess.UserID != claims.UserID() {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// GetUser resolves an access token to its user. Expired tokens return
// [ErrSessionExpired]; forged or malformed ones return [ErrTokenInvalid];
// signed-out sessions return [ErrSessionNotFound] in ModeStrict.
func (e *Engine) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		e.metricObserve(MetricValidateLatency, time.Since(start))
	}()

	claims, err := e.authenticate(ctx, accessToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}

	user, err := e.users.GetUserByID(ctx, claims.UserID())
	if err != nil {
		e.metricInc(MetricValidateFailure)
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapUnavailable(err)
	}

	e.metricInc(MetricValidateSuccess)
	return user, nil
}

// UpdateUser merges attrs.Data into the metadata of the token's user and
// returns the updated user. A nil value deletes its key.
func (e *Engine) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if attrs.Data == nil {
		return nil, ErrInvalidRequest
	}

	claims, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	user, err := e.users.UpdateUserMetadata(ctx, claims.UserID(), attrs.Data)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapUnavailable(err)
	}

	e.metricInc(MetricUserUpdated)
	e.emitAudit(ctx, auditEventUserUpdated, true, user.ID, user.Email, claims.SID, nil, func() map[string]string {
		keys := make(map[string]string, len(attrs.Data))
		for k, v := range attrs.Data {
			if v == nil {
				keys[k] = "deleted"
			} else {
				keys[k] = "set"
			}
		}
		return keys
	})

	return user, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// stops working. Presenting an already rotated token revokes the session and
// returns [ErrRefreshReuse].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sid, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", "", ErrRefreshInvalid)
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	record, err := e.sessionStore.RotateRefreshHash(ctx, sid, internal.HashRefreshSecret(secret), internal.HashRefreshSecret(nextSecret))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			return nil, e.refreshReused(ctx, sid)
		case errors.Is(err, session.ErrRefreshSessionExpired):
			return nil, e.refreshFailed(ctx, "", sid, ErrSessionExpired)
		case errors.Is(err, session.ErrRefreshSessionNotFound):
			return nil, e.refreshFailed(ctx, "", sid, ErrRefreshInvalid)
		default:
			return nil, wrapUnavailable(err)
		}
	}
	record.SessionID = sid

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = e.sessionStore.Delete(ctx, record.UserID, sid)
			return nil, e.refreshFailed(ctx, record.UserID, sid, ErrRefreshInvalid)
		}
		return nil, wrapUnavailable(err)
	}

	sess, err := e.mintSession(record, nextSecret, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventTokenRefreshed, true, user.ID, user.Email, sid, nil, nil)

	return sess, nil
}

func (e *Engine) refreshFailed(ctx context.Context, userID, sid string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, "", sid, err, nil)
	return err
}

func (e *Engine) refreshReused(ctx context.Context, sid string) error {
	e.metricInc(MetricRefreshReuseDetected)

	var userID string
	if sess, err := e.sessionStore.Get(ctx, sid); err == nil {
		userID = sess.UserID
	}
	if err := e.sessionStore.Delete(ctx, userID, sid); err != nil {
		e.logger.Error("session.revoke_failed", "session_id", sid, "error", err)
	}

	e.logger.Warn("refresh.reuse_detected", "session_id", sid, "user_id", userID)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, "", sid, ErrRefreshReuse, nil)
	return ErrRefreshReuse
}

// SignOut revokes the session behind accessToken. Signing out an already
// revoked or expired session succeeds.
func (e *Engine) SignOut(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil
		}
		return ErrTokenInvalid
	}

	if err := e.sessionStore.Delete(ctx, claims.UserID(), claims.SID); err != nil {
		return wrapUnavailable(err)
	}

	e.metricInc(MetricSignOut)
	e.emitAudit(ctx, auditEventSignedOut, true, claims.UserID(), claims.Email, claims.SID, nil, nil)
	return nil
}

// SignOutEverywhere revokes every session of the token's user.
func (e *Engine) SignOutEverywhere(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := e.sessionStore.DeleteAllForUser(ctx, claims.UserID()); err != nil {
		return wrapUnavailable(err)
	}

	e.metricInc(MetricSignOut)
	e.emitAudit(ctx, auditEventSignedOut, true, claims.UserID(), claims.Email, claims.SID, nil, func() map[string]string {
		return map[string]string{"scope": "global"}
	})
	return nil
}
