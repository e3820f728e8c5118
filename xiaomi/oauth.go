package xiaomi

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const tokenPath = "/app/v2/ha/oauth/get_token"

// OAuthConfig configures an OAuthClient.
type OAuthConfig struct {
	// ClientID is the numeric OAuth2 client id. Defaults to DefaultClientID.
	ClientID string

	// RedirectURL is the registered redirect target.
	RedirectURL string

	// CloudServer is the region id (a key of CloudServers).
	CloudServer string

	// UUID is the stable per-install identifier the device id is derived
	// from.
	UUID string

	// TokenURL overrides the regional token endpoint. Tests point it at a
	// local server; production code leaves it empty.
	TokenURL string

	// HTTPClient overrides the transport. Defaults to a fresh client;
	// timeouts come from per-request contexts either way.
	HTTPClient *http.Client
}

// AuthURLOptions overrides parts of the generated authorization URL.
type AuthURLOptions struct {
	RedirectURL string
	State       string
	Scope       []string
	SkipConfirm *bool // defaults to true when nil
}

// ExchangeOptions lets a caller operating in a different host context
// exchange a code through the same client instance.
type ExchangeOptions struct {
	RedirectURL string
	DeviceID    string
}

// OAuthClient drives the authorization-code and refresh flows against a
// regional OAuth host. The CSRF state is not random: it is the SHA-1 hex
// digest of "d=" + device id, so it can be re-verified idempotently
// without any server-side session.
type OAuthClient struct {
	httpClient  *http.Client
	clientID    int64
	redirectURL string
	tokenURL    string
	deviceID    string
	state       string
}

// NewOAuthClient validates the config and derives the device id
// ("ha." + uuid) and CSRF state.
func NewOAuthClient(cfg OAuthConfig) (*OAuthClient, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.RedirectURL == "" || cfg.CloudServer == "" || cfg.UUID == "" {
		return nil, &AuthError{Message: "invalid OAuth configuration"}
	}

	clientID, err := strconv.ParseInt(cfg.ClientID, 10, 64)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("client id %q is not numeric", cfg.ClientID)}
	}

	server, ok := CloudServers[cfg.CloudServer]
	if !ok {
		return nil, &AuthError{Message: fmt.Sprintf("invalid cloud server: %s", cfg.CloudServer)}
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://" + server.OAuthHost + tokenPath
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	deviceID := "ha." + cfg.UUID
	digest := sha1.Sum([]byte("d=" + deviceID))

	return &OAuthClient{
		httpClient:  httpClient,
		clientID:    clientID,
		redirectURL: cfg.RedirectURL,
		tokenURL:    tokenURL,
		deviceID:    deviceID,
		state:       hex.EncodeToString(digest[:]),
	}, nil
}

// State returns the CSRF state value embedded in authorization URLs.
func (c *OAuthClient) State() string {
	return c.state
}

// DeviceID returns the derived OAuth device id.
func (c *OAuthClient) DeviceID() string {
	return c.deviceID
}

// SetRedirectURL replaces the redirect target for subsequent calls.
func (c *OAuthClient) SetRedirectURL(redirectURL string) error {
	if strings.TrimSpace(redirectURL) == "" {
		return &AuthError{Message: "invalid redirect_url"}
	}
	c.redirectURL = redirectURL
	return nil
}

// AuthURL builds the platform authorization URL. Pure, no I/O.
func (c *OAuthClient) AuthURL(opts *AuthURLOptions) string {
	redirect := c.redirectURL
	state := c.state
	skipConfirm := true

	if opts != nil {
		if opts.RedirectURL != "" {
			redirect = opts.RedirectURL
		}
		if opts.State != "" {
			state = opts.State
		}
		if opts.SkipConfirm != nil {
			skipConfirm = *opts.SkipConfirm
		}
	}

	params := url.Values{}
	params.Set("redirect_uri", redirect)
	params.Set("client_id", strconv.FormatInt(c.clientID, 10))
	params.Set("response_type", "code")
	params.Set("device_id", c.deviceID)
	params.Set("state", state)
	if opts != nil && len(opts.Scope) > 0 {
		params.Set("scope", strings.Join(opts.Scope, " "))
	}
	params.Set("skip_confirm", strconv.FormatBool(skipConfirm))

	return AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a token pair. opts may
// override the redirect uri or device id for callers exchanging a code
// obtained in a different host context; pass nil otherwise.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string, opts *ExchangeOptions) (*OAuthToken, error) {
	if code == "" {
		return nil, &AuthError{Message: "invalid authorization code"}
	}

	redirect := c.redirectURL
	deviceID := c.deviceID
	if opts != nil {
		if opts.RedirectURL != "" {
			redirect = opts.RedirectURL
		}
		if opts.DeviceID != "" {
			deviceID = opts.DeviceID
		}
	}

	return c.requestToken(ctx, map[string]any{
		"client_id":    c.clientID,
		"redirect_uri": redirect,
		"code":         code,
		"device_id":    deviceID,
	})
}

// Refresh trades a refresh token for a fresh token pair.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*OAuthToken, error) {
	if refreshToken == "" {
		return nil, &AuthError{Message: "invalid refresh_token"}
	}

	return c.requestToken(ctx, map[string]any{
		"client_id":     c.clientID,
		"redirect_uri":  c.redirectURL,
		"refresh_token": refreshToken,
	})
}

// requestToken hits the token endpoint with the request JSON packed into
// a single "data" query parameter, the platform's convention.
func (c *OAuthClient) requestToken(ctx context.Context, data map[string]any) (*OAuthToken, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling token request: %w", err)
	}

	params := url.Values{}
	params.Set("data", string(payload))

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Code: 401, Message: "unauthorized"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Code: resp.StatusCode, Message: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	var envelope struct {
		Code   int `json:"code"`
		Result struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int64  `json:"expires_in"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("invalid token response: %s", body)}
	}

	r := envelope.Result
	if envelope.Code != 0 || r.AccessToken == "" || r.RefreshToken == "" || r.ExpiresIn == 0 {
		return nil, &AuthError{Message: fmt.Sprintf("invalid token response: %s", body)}
	}

	return &OAuthToken{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		ExpiresTS:    time.Now().Unix() + int64(float64(r.ExpiresIn)*tokenExpiresRatio),
	}, nil
}
