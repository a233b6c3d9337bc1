// Package auth implements the client side of the OAuth 2.0 Device Authorization Grant (RFC 8628).
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/soumadip-dev/VedaCLI/internal/credentials"
)

const (
	// DefaultInterval is used when the server does not send a polling interval.
	DefaultInterval = 5 * time.Second

	// SlowDownIncrement is added to the polling interval on every slow_down response.
	SlowDownIncrement = 5 * time.Second
)

// State is the position of a poll loop in the device flow state machine.
type State int

const (
	StatePolling State = iota
	StateSucceeded
	StateDenied
	StateExpired
	StateFatal
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateDenied:
		return "denied"
	case StateExpired:
		return "expired"
	case StateFatal:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further polling may happen from s.
func (s State) Terminal() bool {
	return s != StatePolling
}

// StateOf maps the error returned by Poll or Login to the terminal state it represents.
func StateOf(err error) State {
	switch {
	case err == nil:
		return StateSucceeded
	case errors.Is(err, ErrAccessDenied):
		return StateDenied
	case errors.Is(err, ErrExpiredToken):
		return StateExpired
	default:
		return StateFatal
	}
}

// PollState is the mutable state of one poll loop.
type PollState struct {
	DeviceCode      string
	ClientID        string
	CurrentInterval time.Duration
	Elapsed         time.Duration
	Attempts        int
	State           State
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client drives the device authorization handshake.
type Client struct {
	transport   Transport
	notifier    Notifier
	logger      *zap.Logger
	sleep       Sleeper
	now         func() time.Time
	openBrowser func(url string) error
	store       credentials.Store
	localExpiry bool
}

// Option configures a Client.
type Option func(*Client)

// WithNotifier sets where user-facing events go.
func WithNotifier(n Notifier) Option {
	return func(c *Client) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleeper replaces the timer-based wait between polls.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBrowser sets the function used to open the verification URI. nil disables it.
func WithBrowser(open func(url string) error) Option {
	return func(c *Client) {
		c.openBrowser = open
	}
}

// WithStore sets where Login persists the credential.
func WithStore(s credentials.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithLocalExpiry controls whether polling stops by itself once expires_in has elapsed,
// without waiting for the server to answer expired_token. On by default.
func WithLocalExpiry(enabled bool) Option {
	return func(c *Client) {
		c.localExpiry = enabled
	}
}

// NewClient creates a Client that talks to the authorization server through transport.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		notifier:    nopNotifier{},
		logger:      zap.NewNop(),
		sleep:       sleepContext,
		now:         time.Now,
		localExpiry: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate requests a device code for clientID and scope (space-delimited).
// Every failure is an *InitError: the attempt has to be abandoned.
func (c *Client) Initiate(ctx context.Context, clientID, scope string) (DeviceCodeResponse, error) {
	if strings.TrimSpace(clientID) == "" {
		return DeviceCodeResponse{}, &InitError{Err: errors.New("client id is required")}
	}

	code, err := c.transport.RequestCode(ctx, clientID, scope)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return DeviceCodeResponse{}, ctxErr
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			err = protocolErrorFrom(rerr)
		}
		c.logger.Debug("device code request failed", zap.Error(err))
		return DeviceCodeResponse{}, &InitError{Err: err}
	}
	if code.DeviceCode == "" || code.UserCode == "" {
		return DeviceCodeResponse{}, &InitError{Err: &ProtocolError{
			Description: "device authorization response is missing device_code or user_code",
		}}
	}
	if code.Interval <= 0 {
		code.Interval = int(DefaultInterval / time.Second)
	}

	c.logger.Debug("device code issued",
		zap.String("user_code", code.UserCode),
		zap.String("verification_uri", code.VerificationURI),
		zap.Int("interval", code.Interval),
		zap.Int("expires_in", code.ExpiresIn),
	)
	return code, nil
}

// Present shows the user code and, when a browser opener is configured, opens the verification page.
// It never fails: display problems are logged and ignored.
func (c *Client) Present(code DeviceCodeResponse) {
	c.notifier.DeviceCode(code)

	if c.openBrowser == nil {
		return
	}
	target := code.VerificationURIComplete
	if target == "" {
		target = code.VerificationURI
	}
	if target == "" {
		return
	}
	if err := c.openBrowser(target); err != nil {
		c.logger.Debug("could not open browser", zap.String("url", target), zap.Error(err))
	}
}

// Poll waits for the user to approve deviceCode and returns the issued token.
// It always waits the current interval before sending a request, including the first one.
// The returned error is ErrAccessDenied, ErrExpiredToken, *ProtocolError, *NetworkError,
// or ctx.Err() when cancelled; StateOf classifies it.
func (c *Client) Poll(ctx context.Context, deviceCode, clientID string, initialInterval, expiresIn int) (TokenResponse, error) {
	st := &PollState{
		DeviceCode:      deviceCode,
		ClientID:        clientID,
		CurrentInterval: time.Duration(initialInterval) * time.Second,
		State:           StatePolling,
	}
	if st.CurrentInterval <= 0 {
		st.CurrentInterval = DefaultInterval
	}

	var deadline time.Duration
	if c.localExpiry && expiresIn > 0 {
		deadline = time.Duration(expiresIn) * time.Second
	}
	start := c.now()

	for {
		if deadline > 0 && st.Elapsed+st.CurrentInterval > deadline {
			return c.finish(st, StateExpired, TokenResponse{}, ErrExpiredToken)
		}

		c.notifier.Polling(st.Attempts+1, st.CurrentInterval)
		if err := c.sleep(ctx, st.CurrentInterval); err != nil {
			c.logger.Debug("polling cancelled", zap.Int("attempts", st.Attempts), zap.Error(err))
			return TokenResponse{}, err
		}

		st.Attempts++
		tok, err := c.transport.ExchangeDeviceCode(ctx, clientID, deviceCode)
		st.Elapsed = c.now().Sub(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Debug("polling cancelled", zap.Int("attempts", st.Attempts), zap.Error(ctxErr))
			return TokenResponse{}, ctxErr
		}

		if err == nil {
			if tok.AccessToken == "" {
				return c.finish(st, StateFatal, TokenResponse{}, &ProtocolError{
					Description: "token response did not include an access_token",
				})
			}
			return c.finish(st, StateSucceeded, tok, nil)
		}

		var rerr *oauth2.RetrieveError
		if !errors.As(err, &rerr) {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				return c.finish(st, StateFatal, TokenResponse{}, perr)
			}
			var nerr *NetworkError
			if !errors.As(err, &nerr) {
				nerr = &NetworkError{Op: "polling token", Err: err}
			}
			return c.finish(st, StateFatal, TokenResponse{}, nerr)
		}

		switch rerr.ErrorCode {
		case "authorization_pending":
			c.logger.Debug("authorization pending",
				zap.Int("attempt", st.Attempts),
				zap.Duration("interval", st.CurrentInterval),
			)
		case "slow_down":
			st.CurrentInterval += SlowDownIncrement
			c.logger.Debug("server requested slow down",
				zap.Int("attempt", st.Attempts),
				zap.Duration("interval", st.CurrentInterval),
			)
			c.notifier.SlowDown(st.CurrentInterval)
		case "access_denied":
			return c.finish(st, StateDenied, TokenResponse{}, ErrAccessDenied)
		case "expired_token":
			return c.finish(st, StateExpired, TokenResponse{}, ErrExpiredToken)
		default:
			return c.finish(st, StateFatal, TokenResponse{}, protocolErrorFrom(rerr))
		}
	}
}

func (c *Client) finish(st *PollState, state State, tok TokenResponse, err error) (TokenResponse, error) {
	st.State = state
	fields := []zap.Field{
		zap.String("state", state.String()),
		zap.Int("attempts", st.Attempts),
		zap.Duration("elapsed", st.Elapsed),
		zap.Duration("interval", st.CurrentInterval),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.logger.Debug("polling finished", fields...)
	return tok, err
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	Record credentials.Record
	// SaveErr is set when the credential could not be persisted.
	// The login still succeeded and Record is usable for this process.
	SaveErr error
}

// Login runs the whole flow: request a code, present it, poll, and persist the token.
// Nothing is persisted when polling fails or ctx is cancelled.
func (c *Client) Login(ctx context.Context, clientID, scope string) (LoginResult, error) {
	attempt := *c
	attempt.logger = c.logger.With(
		zap.String("attempt_id", uuid.NewString()),
		zap.String("client_id", clientID),
	)

	code, err := attempt.Initiate(ctx, clientID, scope)
	if err != nil {
		return LoginResult{}, err
	}

	attempt.Present(code)

	tok, err := attempt.Poll(ctx, code.DeviceCode, clientID, code.Interval, code.ExpiresIn)
	if err != nil {
		return LoginResult{}, err
	}

	res := LoginResult{Record: credentials.NewRecord(tok.grant(), attempt.now())}
	res.Record.ClientID = clientID
	if attempt.store != nil {
		if err := attempt.store.Save(ctx, res.Record); err != nil {
			attempt.logger.Warn("could not persist credentials", zap.Error(err))
			res.SaveErr = err
		}
	}
	return res, nil
}
