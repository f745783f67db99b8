package linkauth

import (
	"context"
	"errors"
)

const (
	auditEventMagicLinkSent        = "magic_link_sent"
	auditEventMagicLinkFailure     = "magic_link_failure"
	auditEventSignedIn             = "signed_in"
	auditEventLinkVerifyFailure    = "link_verify_failure"
	auditEventTokenRefreshed       = "token_refreshed"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventUserUpdated          = "user_updated"
	auditEventSignedOut            = "signed_out"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
)

// AuditErrorCode is the stable error classification written to audit events.
type AuditErrorCode string

const (
	auditErrInvalidEmail   AuditErrorCode = "invalid_email"
	auditErrRateLimited    AuditErrorCode = "rate_limited"
	auditErrLinkInvalid    AuditErrorCode = "link_invalid"
	auditErrLinkExpired    AuditErrorCode = "link_expired"
	auditErrDelivery       AuditErrorCode = "delivery_failed"
	auditErrInvalidToken   AuditErrorCode = "invalid_token"
	auditErrSessionExpired AuditErrorCode = "session_expired"
	auditErrRefreshReuse   AuditErrorCode = "refresh_reuse"
	auditErrUserNotFound   AuditErrorCode = "user_not_found"
	auditErrUnavailable    AuditErrorCode = "backend_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	email string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, email string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", email, "", ErrSignInRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrSignInRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrLinkExpired):
		return auditErrLinkExpired
	case errors.Is(err, ErrLinkInvalid):
		return auditErrLinkInvalid
	case errors.Is(err, ErrLinkDeliveryFailed):
		return auditErrDelivery
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrSessionNotFound):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrProviderUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
