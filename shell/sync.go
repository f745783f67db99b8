package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/client"
	"github.com/cenkalti/backoff/v5"
)

type cookiePayload struct {
	Event   client.Event      `json:"event"`
	Session *linkauth.Session `json:"session"`
}

// syncCookie posts the event to the cookie bridge. Transport errors and 5xx
// answers are retried until SyncMaxElapsed; any other non-2xx is final.
func (s *Shell) syncCookie(ctx context.Context, event client.Event, sess *linkauth.Session) error {
	body, err := json.Marshal(cookiePayload{Event: event, Session: sess})
	if err != nil {
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.SyncInitialInterval
	eb.MaxInterval = s.cfg.SyncMaxElapsed

	attempts := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, s.postCookie(ctx, body)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(s.cfg.SyncMaxElapsed),
	)
	if err != nil {
		s.log.WarnContext(ctx, "cookie.sync_failed",
			"event", string(event),
			"attempts", attempts,
			"err", err,
		)
		return err
	}

	s.log.DebugContext(ctx, "cookie.synced", "event", string(event), "attempts", attempts)
	return nil
}

func (s *Shell) postCookie(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncMaxElapsed)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.cfg.CookieEndpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("cookie endpoint: %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("cookie endpoint: %s", resp.Status))
	}
}
