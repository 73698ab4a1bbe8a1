package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/teemow/inboxdigest/internal/instrumentation"
)

// Config configures an Authenticator.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes defaults to DefaultOAuthScopes.
	Scopes []string

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint

	// UserinfoOptions are passed to the userinfo service client.
	UserinfoOptions []option.ClientOption

	Metrics *instrumentation.Metrics
}

// Identity is the result of a completed sign-in.
type Identity struct {
	Profile *Profile
	Token   *oauth2.Token
}

// Authenticator runs the Google authorization-code flow.
type Authenticator struct {
	conf         *oauth2.Config
	userinfoOpts []option.ClientOption
	metrics      *instrumentation.Metrics
}

// NewAuthenticator validates cfg and returns an Authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("google client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("google client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("google redirect URL is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	return &Authenticator{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userinfoOpts: cfg.UserinfoOptions,
		metrics:      cfg.Metrics,
	}, nil
}

// AuthCodeURL returns the consent screen URL. Offline access and forced
// consent guarantee a refresh token on every sign-in.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	tok, err := a.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// TokenSource returns a refreshing token source seeded with tok.
func (a *Authenticator) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return a.conf.TokenSource(ctx, tok)
}

// FetchProfile reads the signed-in user's profile from the userinfo endpoint.
func (a *Authenticator) FetchProfile(ctx context.Context, ts oauth2.TokenSource) (profile *Profile, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceUserinfo, instrumentation.OperationGet)
	defer span.End()

	start := time.Now()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		}
		a.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceUserinfo, instrumentation.OperationGet, status, time.Since(start))
	}()

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, a.userinfoOpts...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}

	return ProfileFromUserinfo(info), nil
}

// Authenticate completes a sign-in: it exchanges code and loads the profile.
func (a *Authenticator) Authenticate(ctx context.Context, code string) (*Identity, error) {
	tok, err := a.Exchange(ctx, code)
	if err != nil {
		a.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, err
	}

	profile, err := a.FetchProfile(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		a.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, err
	}

	a.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	return &Identity{Profile: profile, Token: tok}, nil
}
