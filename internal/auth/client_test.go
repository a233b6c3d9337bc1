package auth_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/soumadip-dev/VedaCLI/internal/auth"
	"github.com/soumadip-dev/VedaCLI/internal/credentials"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type exchangeResult struct {
	tok auth.TokenResponse
	err error
}

func pending() exchangeResult {
	return exchangeResult{err: &oauth2.RetrieveError{ErrorCode: "authorization_pending"}}
}

func slowDown() exchangeResult {
	return exchangeResult{err: &oauth2.RetrieveError{ErrorCode: "slow_down"}}
}

func oauthError(code, desc string) exchangeResult {
	return exchangeResult{err: &oauth2.RetrieveError{ErrorCode: code, ErrorDescription: desc}}
}

func success(token string, expiresIn int) exchangeResult {
	return exchangeResult{tok: auth.TokenResponse{AccessToken: token, ExpiresIn: expiresIn}}
}

// harness records waits and exchanges in order on a shared timeline driven by a fake clock.
type harness struct {
	now       time.Time
	events    []string
	waits     []time.Duration
	code      auth.DeviceCodeResponse
	codeErr   error
	codeCalls int
	responses []exchangeResult
	calls     int
	onWait    func(n int)
}

func newHarness(responses ...exchangeResult) *harness {
	return &harness{
		now: baseTime,
		code: auth.DeviceCodeResponse{
			DeviceCode:      "DC1",
			UserCode:        "ABCD-1234",
			VerificationURI: "https://auth.example.com/device",
			Interval:        5,
			ExpiresIn:       1800,
		},
		responses: responses,
	}
}

func (h *harness) RequestCode(_ context.Context, clientID, scope string) (auth.DeviceCodeResponse, error) {
	h.codeCalls++
	h.events = append(h.events, "request_code")
	return h.code, h.codeErr
}

func (h *harness) ExchangeDeviceCode(_ context.Context, clientID, deviceCode string) (auth.TokenResponse, error) {
	h.calls++
	h.events = append(h.events, "exchange")
	if h.calls > len(h.responses) {
		return auth.TokenResponse{}, &oauth2.RetrieveError{ErrorCode: "authorization_pending"}
	}
	r := h.responses[h.calls-1]
	return r.tok, r.err
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	h.waits = append(h.waits, d)
	h.events = append(h.events, fmt.Sprintf("wait %s", d))
	if h.onWait != nil {
		h.onWait(len(h.waits))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.now = h.now.Add(d)
	return nil
}

func (h *harness) clock() time.Time {
	return h.now
}

func (h *harness) client(opts ...auth.Option) *auth.Client {
	base := []auth.Option{auth.WithSleeper(h.sleep), auth.WithClock(h.clock)}
	return auth.NewClient(h, append(base, opts...)...)
}

func TestClient_Poll_HappyPathWaitsBeforeEveryCall(t *testing.T) {
	h := newHarness(pending(), pending(), success("tok_abc", 3600))

	tok, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken != "tok_abc" {
		t.Errorf("access token: want 'tok_abc', got '%s'", tok.AccessToken)
	}
	want := []string{"wait 5s", "exchange", "wait 5s", "exchange", "wait 5s", "exchange"}
	if diff := cmp.Diff(want, h.events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
	if got := auth.StateOf(err); got != auth.StateSucceeded {
		t.Errorf("state: want %s, got %s", auth.StateSucceeded, got)
	}
}

func TestClient_Poll_SlowDownIncreasesIntervalAndKeepsIt(t *testing.T) {
	h := newHarness(pending(), slowDown(), pending(), success("tok_abc", 3600))

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{5 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second}
	if diff := cmp.Diff(want, h.waits); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
	if h.calls != 4 {
		t.Errorf("calls: want 4, got %d", h.calls)
	}
}

func TestClient_Poll_IntervalGrowsByFivePerSlowDown(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("%d slow downs", n), func(t *testing.T) {
			var responses []exchangeResult
			for i := 0; i < n; i++ {
				responses = append(responses, slowDown())
			}
			h := newHarness(append(responses, success("tok", 60))...)

			if _, err := h.client().Poll(context.Background(), "DC1", "cli", 3, 0); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := 1; i < len(h.waits); i++ {
				if h.waits[i] < h.waits[i-1] {
					t.Fatalf("interval decreased: %v", h.waits)
				}
			}
			last := h.waits[len(h.waits)-1]
			want := 3*time.Second + time.Duration(n)*auth.SlowDownIncrement
			if last != want {
				t.Errorf("final interval: want %s, got %s", want, last)
			}
		})
	}
}

func TestClient_Poll_NonPositiveIntervalDefaultsToFiveSeconds(t *testing.T) {
	h := newHarness(success("tok", 60))

	if _, err := h.client().Poll(context.Background(), "DC1", "cli", 0, 1800); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.waits[0] != auth.DefaultInterval {
		t.Errorf("first wait: want %s, got %s", auth.DefaultInterval, h.waits[0])
	}
}

func TestClient_Poll_AccessDeniedStopsAfterOneCall(t *testing.T) {
	h := newHarness(oauthError("access_denied", "user said no"), success("never", 60))

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	if !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if h.calls != 1 {
		t.Errorf("calls: want 1, got %d", h.calls)
	}
	if got := auth.StateOf(err); got != auth.StateDenied {
		t.Errorf("state: want %s, got %s", auth.StateDenied, got)
	}
}

func TestClient_Poll_ExpiredTokenTellsCallerToRestart(t *testing.T) {
	h := newHarness(pending(), pending(), oauthError("expired_token", ""))

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	if !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if !strings.Contains(err.Error(), "veda login") {
		t.Errorf("expected restart instruction in %q", err.Error())
	}
	if h.calls != 3 {
		t.Errorf("calls: want 3, got %d", h.calls)
	}
	if got := auth.StateOf(err); got != auth.StateExpired {
		t.Errorf("state: want %s, got %s", auth.StateExpired, got)
	}
}

func TestClient_Poll_LocalDeadlineExpiresWithoutServerHelp(t *testing.T) {
	h := newHarness()

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 12)
	if !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if h.calls != 2 {
		t.Errorf("calls: want 2, got %d", h.calls)
	}
}

func TestClient_Poll_LocalDeadlineCanBeDisabled(t *testing.T) {
	h := newHarness(pending(), pending(), pending(), pending(), success("tok", 60))

	_, err := h.client(auth.WithLocalExpiry(false)).Poll(context.Background(), "DC1", "cli", 5, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.calls != 5 {
		t.Errorf("calls: want 5, got %d", h.calls)
	}
}

func TestClient_Poll_UnknownErrorCodeIsFatal(t *testing.T) {
	h := newHarness(oauthError("invalid_client", "unknown client"))

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	var perr *auth.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if perr.Code != "invalid_client" || perr.Description != "unknown client" {
		t.Errorf("protocol error: got code=%q description=%q", perr.Code, perr.Description)
	}
	if got := auth.StateOf(err); got != auth.StateFatal {
		t.Errorf("state: want %s, got %s", auth.StateFatal, got)
	}
	if h.calls != 1 {
		t.Errorf("calls: want 1, got %d", h.calls)
	}
}

func TestClient_Poll_SuccessWithoutTokenIsFatal(t *testing.T) {
	h := newHarness(exchangeResult{})

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	var perr *auth.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestClient_Poll_NetworkFailureIsNotRetried(t *testing.T) {
	h := newHarness(exchangeResult{err: errors.New("connection refused")}, success("never", 60))

	_, err := h.client().Poll(context.Background(), "DC1", "cli", 5, 1800)
	var nerr *auth.NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if h.calls != 1 {
		t.Errorf("calls: want 1, got %d", h.calls)
	}
	if got := auth.StateOf(err); got != auth.StateFatal {
		t.Errorf("state: want %s, got %s", auth.StateFatal, got)
	}
}

func TestClient_Poll_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(pending(), success("never", 60))
	h.onWait = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	_, err := h.client().Poll(ctx, "DC1", "cli", 5, 1800)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.calls != 1 {
		t.Errorf("calls: want 1, got %d", h.calls)
	}
}

func TestClient_Initiate_RequiresClientID(t *testing.T) {
	h := newHarness()

	_, err := h.client().Initiate(context.Background(), "  ", "openid")
	var ierr *auth.InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InitError, got %T: %v", err, err)
	}
	if h.codeCalls != 0 {
		t.Errorf("transport should not be called, got %d calls", h.codeCalls)
	}
}

func TestClient_Initiate_ServerErrorIsInitError(t *testing.T) {
	h := newHarness()
	h.codeErr = &oauth2.RetrieveError{ErrorCode: "invalid_client", ErrorDescription: "no such client"}

	_, err := h.client().Initiate(context.Background(), "cli", "openid")
	var ierr *auth.InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InitError, got %T: %v", err, err)
	}
	var perr *auth.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected wrapped *ProtocolError, got %v", err)
	}
	if perr.Code != "invalid_client" {
		t.Errorf("code: want 'invalid_client', got '%s'", perr.Code)
	}
}

func TestClient_Initiate_MissingCodesIsInitError(t *testing.T) {
	h := newHarness()
	h.code.UserCode = ""

	_, err := h.client().Initiate(context.Background(), "cli", "openid")
	var ierr *auth.InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InitError, got %T: %v", err, err)
	}
}

func TestClient_Initiate_NormalisesInterval(t *testing.T) {
	h := newHarness()
	h.code.Interval = 0

	code, err := h.client().Initiate(context.Background(), "cli", "openid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code.Interval != 5 {
		t.Errorf("interval: want 5, got %d", code.Interval)
	}
}

type recordingNotifier struct {
	codes     []auth.DeviceCodeResponse
	polls     []int
	slowDowns []time.Duration
}

func (n *recordingNotifier) DeviceCode(code auth.DeviceCodeResponse) { n.codes = append(n.codes, code) }
func (n *recordingNotifier) Polling(attempt int, _ time.Duration) { n.polls = append(n.polls, attempt) }
func (n *recordingNotifier) SlowDown(d time.Duration) { n.slowDowns = append(n.slowDowns, d) }

func TestClient_Present_OpensCompleteURIWhenAvailable(t *testing.T) {
	h := newHarness()
	code := h.code
	code.VerificationURIComplete = "https://auth.example.com/device?user_code=ABCD-1234"

	var opened []string
	n := &recordingNotifier{}
	c := h.client(auth.WithNotifier(n), auth.WithBrowser(func(url string) error {
		opened = append(opened, url)
		return errors.New("no display")
	}))
	c.Present(code)

	if len(n.codes) != 1 || n.codes[0].UserCode != "ABCD-1234" {
		t.Errorf("notifier did not receive the code: %+v", n.codes)
	}
	if diff := cmp.Diff([]string{code.VerificationURIComplete}, opened); diff != "" {
		t.Errorf("opened mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_Present_FallsBackToVerificationURI(t *testing.T) {
	h := newHarness()

	var opened string
	c := h.client(auth.WithBrowser(func(url string) error {
		opened = url
		return nil
	}))
	c.Present(h.code)

	if opened != h.code.VerificationURI {
		t.Errorf("opened: want %q, got %q", h.code.VerificationURI, opened)
	}
}

func TestClient_Login_PersistsRecordAtReceiptTime(t *testing.T) {
	h := newHarness(pending(), pending(), success("tok_abc", 3600))
	store := credentials.NewMemoryStore(h.clock)
	n := &recordingNotifier{}

	res, err := h.client(auth.WithStore(store), auth.WithNotifier(n)).Login(context.Background(), "cli", "openid profile email")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SaveErr != nil {
		t.Fatalf("unexpected save error: %v", res.SaveErr)
	}

	rec, ok := store.Load(context.Background())
	if !ok {
		t.Fatal("expected a stored record")
	}
	received := baseTime.Add(15 * time.Second)
	if !rec.ExpiresAt.Equal(received.Add(3600 * time.Second)) {
		t.Errorf("expires at: want %s, got %s", received.Add(3600*time.Second), rec.ExpiresAt)
	}
	if rec.TokenType != "Bearer" {
		t.Errorf("token type: want 'Bearer', got '%s'", rec.TokenType)
	}
	if rec.ClientID != "cli" {
		t.Errorf("client id: want 'cli', got '%s'", rec.ClientID)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, n.polls); diff != "" {
		t.Errorf("polling events mismatch (-want +got):\n%s", diff)
	}
	if h.events[0] != "request_code" {
		t.Errorf("first event: want request_code, got %s", h.events[0])
	}
}

func TestClient_Login_DeniedPersistsNothing(t *testing.T) {
	h := newHarness(oauthError("access_denied", ""))
	store := credentials.NewMemoryStore(h.clock)

	_, err := h.client(auth.WithStore(store)).Login(context.Background(), "cli", "openid")
	if !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, ok := store.Load(context.Background()); ok {
		t.Error("expected nothing to be stored")
	}
}

func TestClient_Login_CancelledPersistsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(success("tok", 60))
	h.onWait = func(int) { cancel() }
	store := credentials.NewMemoryStore(h.clock)

	_, err := h.client(auth.WithStore(store)).Login(ctx, "cli", "openid")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.calls != 0 {
		t.Errorf("calls: want 0, got %d", h.calls)
	}
	if _, ok := store.Load(context.Background()); ok {
		t.Error("expected nothing to be stored")
	}
}

func TestClient_Login_SaveFailureIsNotFatal(t *testing.T) {
	h := newHarness(success("tok_abc", 3600))
	store := credentials.NewMemoryStore(h.clock)
	store.SaveErr = errors.New("disk full")

	res, err := h.client(auth.WithStore(store)).Login(context.Background(), "cli", "openid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SaveErr == nil {
		t.Fatal("expected SaveErr to be set")
	}
	if res.Record.AccessToken != "tok_abc" {
		t.Errorf("access token: want 'tok_abc', got '%s'", res.Record.AccessToken)
	}
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want auth.State
	}{
		{"nil", nil, auth.StateSucceeded},
		{"denied", auth.ErrAccessDenied, auth.StateDenied},
		{"expired", auth.ErrExpiredToken, auth.StateExpired},
		{"wrapped expired", fmt.Errorf("login: %w", auth.ErrExpiredToken), auth.StateExpired},
		{"protocol", &auth.ProtocolError{Code: "server_error"}, auth.StateFatal},
		{"network", &auth.NetworkError{Op: "polling token", Err: errors.New("eof")}, auth.StateFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auth.StateOf(tt.err); got != tt.want {
				t.Errorf("StateOf: want %s, got %s", tt.want, got)
			}
			if !tt.want.Terminal() {
				t.Errorf("%s should be terminal", tt.want)
			}
		})
	}
}
