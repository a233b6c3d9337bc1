package auth

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GrantTypeDeviceCode is the grant_type of a device access token request (RFC 8628 section 3.4).
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

const maxResponseBytes = 1 << 20

// Transport issues the two requests the device flow needs.
// Error responses carrying an OAuth error code are returned as *oauth2.RetrieveError.
type Transport interface {
	RequestCode(ctx context.Context, clientID, scope string) (DeviceCodeResponse, error)
	ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (TokenResponse, error)
}

// HTTPTransport implements Transport, token refresh and profile lookup over HTTP.
type HTTPTransport struct {
	endpoints Endpoints
	client    *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTPTransport. A nil client gets a 15 second timeout.
func NewHTTPTransport(endpoints Endpoints, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTransport{endpoints: endpoints, client: client}
}

// RequestCode requests a device code and user code.
// The returned DeviceCodeResponse.UserCode must be shown to the user along with VerificationURI.
func (t *HTTPTransport) RequestCode(ctx context.Context, clientID, scope string) (DeviceCodeResponse, error) {
	data := url.Values{}
	data.Set("client_id", clientID)
	if scope != "" {
		data.Set("scope", scope)
	}

	body, err := t.postForm(ctx, t.endpoints.DeviceAuthURL, data, "requesting device code")
	if err != nil {
		return DeviceCodeResponse{}, err
	}

	var raw struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return DeviceCodeResponse{}, &ProtocolError{Description: fmt.Sprintf("decoding device code response: %v", err), Status: http.StatusOK}
	}
	return DeviceCodeResponse{
		DeviceCode:              raw.DeviceCode,
		UserCode:                raw.UserCode,
		VerificationURI:         raw.VerificationURI,
		VerificationURIComplete: raw.VerificationURIComplete,
		ExpiresIn:               raw.ExpiresIn,
		Interval:                raw.Interval,
	}, nil
}

// ExchangeDeviceCode makes a single device access token request.
// authorization_pending, slow_down and the other RFC 8628 codes come back as *oauth2.RetrieveError.
func (t *HTTPTransport) ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", GrantTypeDeviceCode)
	data.Set("device_code", deviceCode)
	data.Set("client_id", clientID)

	body, err := t.postForm(ctx, t.endpoints.TokenURL, data, "polling token")
	if err != nil {
		return TokenResponse{}, err
	}

	var raw struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		Scope        string `json:"scope"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return TokenResponse{}, &ProtocolError{Description: fmt.Sprintf("decoding token response: %v", err), Status: http.StatusOK}
	}
	return TokenResponse{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		TokenType:    raw.TokenType,
		Scope:        raw.Scope,
		ExpiresIn:    raw.ExpiresIn,
	}, nil
}

// Refresh exchanges refreshToken for a new access token.
// Servers that do not rotate refresh tokens get the old one carried over.
func (t *HTTPTransport) Refresh(ctx context.Context, clientID, refreshToken string) (TokenResponse, error) {
	cfg := oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  t.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return TokenResponse{}, protocolErrorFrom(rerr)
		}
		return TokenResponse{}, &NetworkError{Op: "refreshing token", Err: err}
	}

	resp := TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int(math.Round(time.Until(tok.Expiry).Seconds()))
	}
	return resp, nil
}

// Profile is the signed-in user as reported by the server.
type Profile struct {
	ID    string
	Name  string
	Email string
	Login string
}

type rawProfile struct {
	ID    interface{} `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Login string      `json:"login"`
}

// FetchProfile looks up the user owning accessToken.
// Both a session envelope ({"user": {...}}) and a bare user object are accepted.
func (t *HTTPTransport) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	if t.endpoints.ProfileURL == "" {
		return Profile{}, errors.New("this server has no profile endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoints.ProfileURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Profile{}, &NetworkError{Op: "fetching profile", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Profile{}, ErrNotAuthenticated
	}
	if resp.StatusCode >= 400 {
		return Profile{}, &ProtocolError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Profile{}, &NetworkError{Op: "reading profile", Err: err}
	}

	var envelope struct {
		User  *rawProfile `json:"user"`
		ID    interface{} `json:"id"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
		Login string      `json:"login"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Profile{}, &ProtocolError{Description: fmt.Sprintf("decoding profile: %v", err), Status: resp.StatusCode}
	}
	raw := rawProfile{ID: envelope.ID, Name: envelope.Name, Email: envelope.Email, Login: envelope.Login}
	if envelope.User != nil {
		raw = *envelope.User
	}
	if raw.ID == nil {
		return Profile{}, ErrNotAuthenticated
	}
	return Profile{
		ID:    profileID(raw.ID),
		Name:  raw.Name,
		Email: raw.Email,
		Login: raw.Login,
	}, nil
}

func profileID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// postForm sends a form-encoded POST and returns the body of a successful response.
// Any body carrying an OAuth "error" member is turned into *oauth2.RetrieveError, whatever the status.
func (t *HTTPTransport) postForm(ctx context.Context, endpoint string, data url.Values, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
		return nil, &oauth2.RetrieveError{
			Response:         resp,
			Body:             body,
			ErrorCode:        oauthErr.Error,
			ErrorDescription: oauthErr.ErrorDescription,
			ErrorURI:         oauthErr.ErrorURI,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &oauth2.RetrieveError{Response: resp, Body: body}
	}
	return body, nil
}

func protocolErrorFrom(rerr *oauth2.RetrieveError) *ProtocolError {
	pe := &ProtocolError{
		Code:        rerr.ErrorCode,
		Description: rerr.ErrorDescription,
	}
	if rerr.Response != nil {
		pe.Status = rerr.Response.StatusCode
	}
	if pe.Code == "" && pe.Description == "" && len(rerr.Body) > 0 {
		desc := strings.TrimSpace(string(rerr.Body))
		if len(desc) > 200 {
			desc = desc[:200]
		}
		pe.Description = desc
	}
	return pe
}
