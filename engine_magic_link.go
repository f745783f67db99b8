package linkauth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/MrEthical07/linkauth/internal"
	"github.com/MrEthical07/linkauth/internal/limiters"
	"github.com/MrEthical07/linkauth/internal/stores"
)

// SendMagicLink issues a single-use sign-in link for email and hands it to
// the Mailer. redirectTo is where the browser lands after the link is
// redeemed; it is replaced by MagicLink.DefaultRedirect unless it matches
// MagicLink.AllowedRedirects.
//
// Unknown emails get an account when MagicLink.AutoCreateUsers is set and
// [ErrUserNotFound] otherwise. Requests are throttled per email and per the
// client IP carried by [WithClientIP].
func (e *Engine) SendMagicLink(ctx context.Context, email, redirectTo string) error {
	if !e.ready() || e.linkStore == nil || e.mailer == nil {
		return ErrEngineNotReady
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		e.metricInc(MetricMagicLinkFailure)
		return err
	}

	if err := e.limiter.CheckRequest(ctx, normalized, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrSignInRateLimited) {
			e.emitRateLimit(ctx, "request", normalized)
			return ErrSignInRateLimited
		}
		e.metricInc(MetricMagicLinkFailure)
		return wrapUnavailable(err)
	}

	user, err := e.lookupOrCreateUser(ctx, normalized)
	if err != nil {
		e.metricInc(MetricMagicLinkFailure)
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, "", normalized, "", err, nil)
		return err
	}

	token, linkID, secretHash, err := internal.NewLinkToken()
	if err != nil {
		e.metricInc(MetricMagicLinkFailure)
		return err
	}

	ttl := e.config.MagicLink.TTL
	record := &stores.MagicLinkRecord{
		Email:      user.Email,
		SecretHash: secretHash,
		ExpiresAt:  e.now().Add(ttl).Unix(),
	}
	if err := e.linkStore.Save(ctx, linkID, record, ttl); err != nil {
		e.metricInc(MetricMagicLinkFailure)
		return wrapUnavailable(err)
	}

	link := e.buildLink(token, e.resolveRedirect(redirectTo))
	if err := e.mailer.SendMagicLink(ctx, user.Email, link); err != nil {
		e.metricInc(MetricMagicLinkFailure)
		e.logger.Warn("magic_link.delivery_failed", "user_id", user.ID, "error", err)
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, user.ID, user.Email, "", ErrLinkDeliveryFailed, nil)
		return ErrLinkDeliveryFailed
	}

	e.metricInc(MetricMagicLinkSent)
	e.emitAudit(ctx, auditEventMagicLinkSent, true, user.ID, user.Email, "", nil, func() map[string]string {
		return map[string]string{"link_id": linkID}
	})

	return nil
}

// VerifyLink redeems a magic link token and opens a session. A token works
// once; a second attempt returns [ErrLinkInvalid]. A token past its TTL
// returns [ErrLinkExpired].
func (e *Engine) VerifyLink(ctx context.Context, token string) (*Session, error) {
	if !e.ready() || e.linkStore == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.limiter.CheckVerify(ctx, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrSignInRateLimited) {
			e.emitRateLimit(ctx, "verify", "")
			return nil, ErrSignInRateLimited
		}
		return nil, wrapUnavailable(err)
	}

	linkID, hash, err := internal.DecodeLinkToken(token)
	if err != nil {
		return nil, e.linkVerifyFailed(ctx, ErrLinkInvalid)
	}

	record, err := e.linkStore.Consume(ctx, linkID, hash)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrMagicLinkNotFound), errors.Is(err, stores.ErrMagicLinkSecretMismatch):
			return nil, e.linkVerifyFailed(ctx, ErrLinkInvalid)
		case errors.Is(err, stores.ErrMagicLinkExpired):
			return nil, e.linkVerifyFailed(ctx, ErrLinkExpired)
		default:
			return nil, wrapUnavailable(err)
		}
	}

	// The account may have been created after the link was sent; verification
	// always creates on demand.
	user, err := e.users.GetUserByEmail(ctx, record.Email)
	if errors.Is(err, ErrUserNotFound) {
		user, err = e.createUser(ctx, record.Email)
	}
	if err != nil {
		if !errors.Is(err, ErrProviderUnavailable) {
			err = wrapUnavailable(err)
		}
		return nil, e.linkVerifyFailed(ctx, err)
	}

	sess, sid, err := e.issueSession(ctx, user)
	if err != nil {
		return nil, e.linkVerifyFailed(ctx, err)
	}

	e.metricInc(MetricLinkVerifySuccess)
	e.emitAudit(ctx, auditEventSignedIn, true, user.ID, user.Email, sid, nil, nil)

	return sess, nil
}

func (e *Engine) linkVerifyFailed(ctx context.Context, err error) error {
	e.metricInc(MetricLinkVerifyFailure)
	e.emitAudit(ctx, auditEventLinkVerifyFailure, false, "", "", "", err, nil)
	return err
}

func (e *Engine) lookupOrCreateUser(ctx context.Context, email string) (*User, error) {
	user, err := e.users.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, wrapUnavailable(err)
	}
	if !e.config.MagicLink.AutoCreateUsers {
		return nil, ErrUserNotFound
	}
	return e.createUser(ctx, email)
}

// createUser tolerates a concurrent creator winning the race.
func (e *Engine) createUser(ctx context.Context, email string) (*User, error) {
	user, err := e.users.CreateUser(ctx, email)
	if errors.Is(err, ErrUserExists) {
		user, err = e.users.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return user, nil
}

func (e *Engine) buildLink(token, redirectTo string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("type", "magiclink")
	q.Set("redirect_to", redirectTo)
	return strings.TrimRight(e.config.MagicLink.SiteURL, "/") + "/auth/v1/verify?" + q.Encode()
}

func (e *Engine) resolveRedirect(redirectTo string) string {
	return ResolveRedirect(e.config.MagicLink, redirectTo)
}

// ResolveRedirect returns redirectTo when it falls under one of
// cfg.AllowedRedirects and cfg.DefaultRedirect otherwise. An entry matches on
// scheme and host exactly and on its path at a segment boundary, so
// "https://app.example.com" does not admit "https://app.example.com.evil.net".
func ResolveRedirect(cfg MagicLinkConfig, redirectTo string) string {
	redirectTo = strings.TrimSpace(redirectTo)
	if redirectTo == "" {
		return cfg.DefaultRedirect
	}
	if redirectTo == cfg.DefaultRedirect {
		return redirectTo
	}
	u, err := url.Parse(redirectTo)
	if err != nil || u.Host == "" || u.User != nil {
		return cfg.DefaultRedirect
	}
	for _, entry := range cfg.AllowedRedirects {
		if redirectAllowed(entry, u) {
			return redirectTo
		}
	}
	return cfg.DefaultRedirect
}

func redirectAllowed(entry string, target *url.URL) bool {
	allowed, err := url.Parse(strings.TrimSpace(entry))
	if err != nil || allowed.Host == "" {
		return false
	}
	if !strings.EqualFold(allowed.Scheme, target.Scheme) || !strings.EqualFold(allowed.Host, target.Host) {
		return false
	}
	base := strings.TrimRight(allowed.Path, "/")
	if base == "" {
		return true
	}
	return target.Path == base || strings.HasPrefix(target.Path, base+"/")
}
