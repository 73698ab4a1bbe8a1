package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
)

// persistingTokenSource writes refreshed tokens back into the session.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	sess    *Session
	save    func(context.Context, *Session) error
	ctx     context.Context
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.sess.AccessToken
	tok, err := p.base.Token()
	if err != nil {
		p.metrics.RecordOAuthTokenRefresh(p.ctx, instrumentation.OAuthResultFailure)
		return nil, err
	}
	if tok.AccessToken == current {
		return tok, nil
	}

	p.metrics.RecordOAuthTokenRefresh(p.ctx, instrumentation.OAuthResultSuccess)
	p.logger.Debug("access token refreshed",
		logging.UserHash(p.sess.Email()), slog.String("token", logging.SanitizeToken(tok.AccessToken)))
	p.sess.SetToken(tok)
	if err := p.save(p.ctx, p.sess); err != nil {
		// The refreshed token is still usable for this request.
		p.logger.Warn("failed to persist refreshed token",
			logging.UserHash(p.sess.Email()), logging.Err(err))
	}
	return tok, nil
}
