package auth

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
)

// Endpoints are the absolute URLs the transport talks to.
type Endpoints struct {
	oauth2.Endpoint        // DeviceAuthURL and TokenURL
	ProfileURL      string // empty when the server has no profile endpoint
}

// Preset describes where a family of authorization servers keeps its device flow endpoints.
// Paths are joined onto the server URL; a path that is already an absolute URL is used as is.
type Preset struct {
	Name           string
	Host           string // matched against the server URL host; empty never matches
	DeviceCodePath string
	TokenPath      string
	ProfilePath    string
}

// Endpoints resolves p against serverURL.
func (p Preset) Endpoints(serverURL string) (Endpoints, error) {
	base, err := url.Parse(serverURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return Endpoints{}, errors.Newf("invalid server URL %q", serverURL)
	}
	var eps Endpoints
	if eps.DeviceAuthURL, err = resolvePath(serverURL, p.DeviceCodePath); err != nil {
		return Endpoints{}, err
	}
	if eps.TokenURL, err = resolvePath(serverURL, p.TokenPath); err != nil {
		return Endpoints{}, err
	}
	if p.ProfilePath != "" {
		if eps.ProfileURL, err = resolvePath(serverURL, p.ProfilePath); err != nil {
			return Endpoints{}, err
		}
	}
	eps.AuthStyle = oauth2.AuthStyleInParams
	return eps, nil
}

func resolvePath(serverURL, path string) (string, error) {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path, nil
	}
	joined, err := url.JoinPath(serverURL, path)
	if err != nil {
		return "", errors.Wrap(err, "building URL")
	}
	return joined, nil
}

// Presets maps server hosts and preset names to endpoint layouts.
type Presets struct {
	entries  []Preset
	fallback Preset
}

// BetterAuth is the layout of a better-auth server with the device authorization plugin.
var BetterAuth = Preset{
	Name:           "better-auth",
	DeviceCodePath: "/api/auth/device/code",
	TokenPath:      "/api/auth/device/token",
	ProfilePath:    "/api/me",
}

// NewPresets creates a registry that falls back to fallback when nothing matches.
func NewPresets(fallback Preset) *Presets {
	return &Presets{fallback: fallback}
}

// DefaultPresets knows better-auth (the fallback), GitHub and GitLab.
func DefaultPresets() *Presets {
	p := NewPresets(BetterAuth)
	p.Register(BetterAuth)
	p.Register(Preset{
		Name:           "github",
		Host:           "github.com",
		DeviceCodePath: "/login/device/code",
		TokenPath:      "/login/oauth/access_token",
		ProfilePath:    "https://api.github.com/user",
	})
	p.Register(Preset{
		Name:           "gitlab",
		Host:           "gitlab.com",
		DeviceCodePath: "/oauth/authorize_device",
		TokenPath:      "/oauth/token",
		ProfilePath:    "/api/v4/user",
	})
	return p
}

// Register adds a preset. Later registrations do not replace earlier ones with the same name.
func (p *Presets) Register(preset Preset) {
	p.entries = append(p.entries, preset)
}

// Lookup returns the preset registered under name.
func (p *Presets) Lookup(name string) (Preset, error) {
	for _, e := range p.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Preset{}, errors.Newf("unknown provider %q", name)
}

// Detect returns the preset whose host appears in serverURL, or the fallback.
func (p *Presets) Detect(serverURL string) Preset {
	host := serverURL
	if u, err := url.Parse(serverURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	for _, e := range p.entries {
		if e.Host != "" && (host == e.Host || strings.HasSuffix(host, "."+e.Host)) {
			return e
		}
	}
	return p.fallback
}

// Resolve picks the named preset (or detects one when name is empty) and resolves it against serverURL.
func (p *Presets) Resolve(serverURL, name string) (Endpoints, error) {
	preset := p.Detect(serverURL)
	if name != "" {
		var err error
		if preset, err = p.Lookup(name); err != nil {
			return Endpoints{}, err
		}
	}
	return preset.Endpoints(serverURL)
}
