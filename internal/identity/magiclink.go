package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/email"
)

// LinkMode selects how a verified link hands the session to the browser.
type LinkMode string

const (
	// ModeCookie sets a session cookie on verify.
	ModeCookie LinkMode = "cookie"

	// ModeToken forwards the raw token to the frontend, which exchanges it
	// for an access and refresh token pair.
	ModeToken LinkMode = "token"
)

// ParseLinkMode defaults to ModeCookie.
func ParseLinkMode(raw string) LinkMode {
	if LinkMode(strings.TrimSpace(raw)) == ModeToken {
		return ModeToken
	}
	return ModeCookie
}

var authMessages = map[error]string{
	ErrTokenInvalid:   "Invalid token",
	ErrTokenUsed:      "Token already used",
	ErrTokenExpired:   "Token expired",
	ErrUserInactive:   "User inactive",
	ErrRefreshInvalid: "Invalid refresh token",
	ErrRefreshRevoked: "Refresh token revoked",
	ErrRefreshExpired: "Refresh token expired",
	ErrRefreshReused:  "Refresh token reuse detected",
	ErrSessionInvalid: "Invalid session",
}

func authFailure(err error) error {
	return &apperr.Error{Kind: apperr.KindAuthentication, Message: authMessages[err], Err: err}
}

// FlowConfig parameterizes one audience's magic-link flow. LinkBaseURL is the
// public origin of this service. RedirectBaseURL, when set, turns redirect
// paths into absolute URLs.
type FlowConfig struct {
	Audience           Audience
	VerifyPath         string
	DefaultRedirect    string
	Subject            string
	LinkBaseURL        string
	RedirectBaseURL    string
	AllowNewUsers      bool
	ClosedSignupNotice bool
	BootstrapEmail     string
	RequireAdminAccess bool
	MagicTTLKey        string
	SessionTTLKey      string
	Clock              Clock
}

// MagicLinkFlow issues emailed sign-in links and turns them into sessions.
type MagicLinkFlow struct {
	cfg      FlowConfig
	users    UserStore
	tokens   TokenStore
	mailer   email.Sender
	sessions *Sessions
	settings appconfig.Provider
}

func NewMagicLinkFlow(cfg FlowConfig, users UserStore, tokens TokenStore, mailer email.Sender, sessions *Sessions, settings appconfig.Provider) *MagicLinkFlow {
	if cfg.Clock == nil {
		cfg.Clock = timeNowClock{}
	}
	if cfg.DefaultRedirect == "" {
		cfg.DefaultRedirect = "/"
	}
	cfg.BootstrapEmail = NormalizeEmail(cfg.BootstrapEmail)
	sessions.clock = cfg.Clock
	return &MagicLinkFlow{cfg: cfg, users: users, tokens: tokens, mailer: mailer, sessions: sessions, settings: settings}
}

func (f *MagicLinkFlow) Audience() Audience { return f.cfg.Audience }

// SessionTTL is the configured session lifetime.
func (f *MagicLinkFlow) SessionTTL() time.Duration {
	return appconfig.Minutes(f.settings, f.cfg.SessionTTLKey)
}

func (f *MagicLinkFlow) magicTTL() time.Duration {
	return appconfig.Minutes(f.settings, f.cfg.MagicTTLKey)
}

// LinkRequest asks for a sign-in link.
type LinkRequest struct {
	Email        string
	RedirectPath string
	Mode         LinkMode
	Meta         ClientMeta
}

// RequestLink emails a sign-in link when the address belongs to an eligible
// user. Unknown addresses succeed silently so callers cannot probe for accounts.
func (f *MagicLinkFlow) RequestLink(ctx context.Context, req LinkRequest) error {
	addr := NormalizeEmail(req.Email)
	if addr == "" {
		return apperr.Validation("email is required")
	}
	log.Info().Str("event", string(f.cfg.Audience)+"_magic_link_request_received").Str("email", addr).Msg("magic link requested")

	user, err := f.users.FindUserByEmail(ctx, addr)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return apperr.Internal("failed to look up user", err)
	}
	if user, err = f.applyBootstrap(ctx, addr, user); err != nil {
		return err
	}

	if user == nil {
		if !f.cfg.AllowNewUsers {
			f.sendClosedSignup(ctx, addr)
			return nil
		}
		if user, err = f.signUp(ctx, addr); err != nil {
			return err
		}
	}
	if !user.Active() {
		return nil
	}
	if f.cfg.RequireAdminAccess && !user.CanAdminister() {
		return nil
	}
	if f.cfg.LinkBaseURL == "" {
		return apperr.Configuration("BACKEND_URL not configured")
	}

	raw, hash, err := newOpaqueToken()
	if err != nil {
		return apperr.Internal("Could not send login link", err)
	}
	now := f.cfg.Clock.Now()
	ttl := f.magicTTL()
	token := &MagicToken{
		Audience:             f.cfg.Audience,
		UserID:               user.ID,
		TokenHash:            hash,
		ExpiresAt:            now.Add(ttl),
		CreatedFromIP:        req.Meta.IP,
		CreatedFromUserAgent: req.Meta.UserAgent,
		CreatedAt:            now,
	}
	if err := f.tokens.CreateMagicToken(ctx, token); err != nil {
		return apperr.Internal("Could not send login link", err)
	}

	link, err := f.buildLink(raw, req.RedirectPath, req.Mode)
	if err != nil {
		return apperr.Internal("Could not send login link", err)
	}
	msg := email.Message{
		To:      []string{user.Email},
		Subject: f.cfg.Subject,
		Text: strings.Join([]string{
			"Your login link:",
			link,
			"",
			fmt.Sprintf("This link expires in %d minutes.", int(ttl.Minutes())),
			"If you did not request it, you can ignore this email.",
		}, "\n"),
	}
	if err := f.mailer.Send(ctx, msg); err != nil {
		return apperr.Internal("Could not send login link", err)
	}
	log.Info().
		Str("event", string(f.cfg.Audience)+"_magic_link_sent").
		Str("email", user.Email).
		Int("expiresMinutes", int(ttl.Minutes())).
		Msg("magic link sent")
	return nil
}

// applyBootstrap creates or repairs the owner account for the bootstrap email.
func (f *MagicLinkFlow) applyBootstrap(ctx context.Context, addr string, user *User) (*User, error) {
	if f.cfg.BootstrapEmail == "" || addr != f.cfg.BootstrapEmail {
		return user, nil
	}
	now := f.cfg.Clock.Now()
	if user == nil {
		user = &User{ID: uuid.NewString(), Email: addr, CreatedAt: now, UpdatedAt: now}
		user.promoteOwner()
		if err := f.users.CreateUser(ctx, user); err != nil {
			return nil, apperr.Internal("failed to create bootstrap owner", err)
		}
		log.Info().Str("event", "bootstrap_owner_created").Str("email", addr).Msg("bootstrap owner created")
		return user, nil
	}
	user.promoteOwner()
	user.UpdatedAt = now
	if err := f.users.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Internal("failed to update bootstrap owner", err)
	}
	return user, nil
}

func (f *MagicLinkFlow) signUp(ctx context.Context, addr string) (*User, error) {
	now := f.cfg.Clock.Now()
	user := &User{
		ID:             uuid.NewString(),
		Email:          addr,
		Role:           RoleReadonly,
		LocationAccess: LocationAccessAll,
		Status:         UserActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.users.CreateUser(ctx, user); err != nil {
		return nil, apperr.Internal("failed to create user", err)
	}
	log.Info().Str("event", "user_signed_up").Str("email", addr).Msg("user created from magic link request")
	return user, nil
}

func (f *MagicLinkFlow) sendClosedSignup(ctx context.Context, addr string) {
	if !f.cfg.ClosedSignupNotice {
		return
	}
	msg := email.Message{
		To:      []string{addr},
		Subject: "Weather Forecast access request",
		Text: strings.Join([]string{
			"Thanks for your interest!",
			"The app is currently in development and not accepting new users.",
			"Please check back later.",
		}, "\n"),
	}
	if err := f.mailer.Send(ctx, msg); err != nil {
		log.Warn().Err(err).Str("email", addr).Msg("failed to send closed signup email")
	}
}

func (f *MagicLinkFlow) buildLink(raw, redirectPath string, mode LinkMode) (string, error) {
	base, err := url.Parse(f.cfg.LinkBaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse link base url: %w", err)
	}
	link := base.ResolveReference(&url.URL{Path: f.cfg.VerifyPath})
	q := link.Query()
	q.Set("token", raw)
	q.Set("redirect", SafeRedirect(redirectPath, f.cfg.DefaultRedirect))
	if mode == ModeToken {
		q.Set("mode", string(ModeToken))
	}
	link.RawQuery = q.Encode()
	return link.String(), nil
}

// Check validates a raw token without consuming it.
func (f *MagicLinkFlow) Check(ctx context.Context, raw string) (*User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.Validation("token is required")
	}
	token, err := f.tokens.FindMagicToken(ctx, f.cfg.Audience, HashToken(raw))
	if errors.Is(err, ErrTokenNotFound) {
		return nil, authFailure(ErrTokenInvalid)
	}
	if err != nil {
		return nil, apperr.Internal("failed to look up token", err)
	}
	user, err := f.users.GetUser(ctx, token.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, authFailure(ErrTokenInvalid)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	switch {
	case token.UsedAt != nil:
		return nil, authFailure(ErrTokenUsed)
	case token.ExpiresAt.Before(f.cfg.Clock.Now()):
		return nil, authFailure(ErrTokenExpired)
	case !user.Active():
		return nil, authFailure(ErrUserInactive)
	}
	return user, nil
}

// Verify consumes a raw token and records the login. Concurrent verifies of
// the same token succeed at most once.
func (f *MagicLinkFlow) Verify(ctx context.Context, raw string, meta ClientMeta) (*User, error) {
	user, err := f.Check(ctx, raw)
	if err != nil {
		return nil, err
	}
	now := f.cfg.Clock.Now()
	ok, err := f.tokens.ConsumeMagicToken(ctx, f.cfg.Audience, HashToken(strings.TrimSpace(raw)), now, meta)
	if err != nil {
		return nil, apperr.Internal("failed to consume token", err)
	}
	if !ok {
		return nil, authFailure(ErrTokenUsed)
	}

	if err := f.users.RecordLogin(ctx, user.ID, now, meta.IP, meta.UserAgent); err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("failed to record login")
	}
	user.LastLoginAt = &now
	user.LastLoginIP = meta.IP
	user.LastLoginUserAgent = meta.UserAgent
	log.Info().Str("event", string(f.cfg.Audience)+"_magic_link_verified").Str("email", user.Email).Msg("magic link verified")
	return user, nil
}

// StartSession signs a session token for u.
func (f *MagicLinkFlow) StartSession(u *User) (string, error) {
	token, err := f.sessions.Issue(u, f.SessionTTL())
	if err != nil {
		return "", apperr.Internal("failed to sign session", err)
	}
	return token, nil
}

// SessionUser resolves the active user behind a session or access token.
func (f *MagicLinkFlow) SessionUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, authFailure(ErrSessionInvalid)
	}
	claims, err := f.sessions.Parse(token)
	if err != nil {
		return nil, authFailure(ErrSessionInvalid)
	}
	user, err := f.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, authFailure(ErrSessionInvalid)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load session user", err)
	}
	if !user.Active() {
		return nil, authFailure(ErrUserInactive)
	}
	if f.cfg.RequireAdminAccess && !user.CanAdminister() {
		return nil, authFailure(ErrSessionInvalid)
	}
	if user.IsOwner() {
		user.LocationAccess = LocationAccessAll
		user.AdminAccess = true
	}
	return user, nil
}

// RedirectTarget is where the browser lands after a cookie-mode verify.
func (f *MagicLinkFlow) RedirectTarget(rawPath string) string {
	path := SafeRedirect(rawPath, f.cfg.DefaultRedirect)
	if f.cfg.RedirectBaseURL == "" {
		return path
	}
	base, err := url.Parse(f.cfg.RedirectBaseURL)
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return base.ResolveReference(ref).String()
}

// TokenRedirectTarget forwards the raw token to the frontend for exchange.
func (f *MagicLinkFlow) TokenRedirectTarget(rawPath, token string) string {
	target, err := url.Parse(f.RedirectTarget(rawPath))
	if err != nil {
		return f.cfg.DefaultRedirect
	}
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()
	return target.String()
}

// SafeRedirect accepts only same-origin absolute paths.
func SafeRedirect(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		return raw
	}
	return fallback
}
