package xiaomi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Options configures a Client. Zero fields take defaults; values loaded
// from a previously persisted config win over defaults but lose to
// explicitly set fields.
type Options struct {
	CloudServer string // region id, default "cn"
	ClientID    string // default DefaultClientID
	RedirectURL string // default DefaultRedirectURL
	StorageDir  string // default ~/.moltbot/xiaomi

	// Endpoint overrides, empty in production. Tests point these at
	// local servers.
	TokenURL   string
	APIBaseURL string
	ProfileURL string

	// HTTPClient overrides the transport for all upstream calls.
	HTTPClient *http.Client
}

// Client is the facade owning the credential lifecycle and composing the
// OAuth client, the API client and the device directory. It is a single
// sequential flow; it performs no internal parallelism beyond coalescing
// concurrent refresh attempts.
type Client struct {
	storage *Storage

	cloudServer string
	clientID    string
	redirectURL string
	uuid        string

	tokenURL   string
	apiBaseURL string
	profileURL string
	httpClient *http.Client

	oauth *OAuthClient
	api   *APIClient

	devices  map[string]DeviceInfo
	homes    map[string]HomeInfo
	userInfo *UserInfo

	refreshGroup singleflight.Group
	now          func() time.Time
}

// New creates a Client. Call Init before anything else.
func New(opts Options) (*Client, error) {
	if opts.CloudServer == "" {
		opts.CloudServer = "cn"
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.RedirectURL == "" {
		opts.RedirectURL = DefaultRedirectURL
	}
	if opts.StorageDir == "" {
		dir, err := DefaultStorageDir()
		if err != nil {
			return nil, err
		}
		opts.StorageDir = dir
	}

	if _, ok := CloudServers[opts.CloudServer]; !ok {
		return nil, fmt.Errorf("invalid cloud server: %s", opts.CloudServer)
	}

	return &Client{
		storage:     NewStorage(opts.StorageDir),
		cloudServer: opts.CloudServer,
		clientID:    opts.ClientID,
		redirectURL: opts.RedirectURL,
		tokenURL:    opts.TokenURL,
		apiBaseURL:  opts.APIBaseURL,
		profileURL:  opts.ProfileURL,
		httpClient:  opts.HTTPClient,
		now:         time.Now,
	}, nil
}

// Init loads the persisted config. On first run it mints and persists a
// fresh uuid and reports false (not logged in). When a token is present
// it constructs the OAuth and API clients, refreshing synchronously
// first if the token is past its refresh point, so callers never observe
// an API client holding a stale token.
func (c *Client) Init(ctx context.Context) (bool, error) {
	cfg, err := c.storage.Load()
	if err != nil {
		return false, err
	}

	if cfg == nil || cfg.UUID == "" {
		c.uuid = uuid.NewString()
		if err := c.storage.UpdateUUID(c.uuid); err != nil {
			return false, err
		}
	} else {
		c.uuid = cfg.UUID
	}

	if cfg == nil {
		return false, nil
	}

	if cfg.CloudServer != "" {
		c.cloudServer = cfg.CloudServer
	}
	if cfg.ClientID != "" {
		c.clientID = cfg.ClientID
	}
	if cfg.RedirectURL != "" {
		c.redirectURL = cfg.RedirectURL
	}

	c.devices = cfg.Devices
	c.homes = cfg.Homes
	c.userInfo = cfg.UserInfo

	if cfg.Token == nil {
		return false, nil
	}

	if err := c.setupClients(cfg.Token); err != nil {
		return false, err
	}

	if cfg.Token.Expired(c.now()) {
		if err := c.RefreshToken(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

// setupClients builds the OAuth and API clients for the current token.
func (c *Client) setupClients(token *OAuthToken) error {
	oauthClient, err := NewOAuthClient(OAuthConfig{
		ClientID:    c.clientID,
		RedirectURL: c.redirectURL,
		CloudServer: c.cloudServer,
		UUID:        c.uuid,
		TokenURL:    c.tokenURL,
		HTTPClient:  c.httpClient,
	})
	if err != nil {
		return err
	}

	apiClient, err := NewAPIClient(APIConfig{
		CloudServer: c.cloudServer,
		ClientID:    c.clientID,
		AccessToken: token.AccessToken,
		BaseURL:     c.apiBaseURL,
		ProfileURL:  c.profileURL,
		HTTPClient:  c.httpClient,
	})
	if err != nil {
		return err
	}

	c.oauth = oauthClient
	c.api = apiClient

	return nil
}

// ensureOAuth lazily builds the OAuth client for pre-login operations
// (auth URL generation, code exchange).
func (c *Client) ensureOAuth() error {
	if c.oauth != nil {
		return nil
	}
	if c.uuid == "" {
		c.uuid = uuid.NewString()
		if err := c.storage.UpdateUUID(c.uuid); err != nil {
			return err
		}
	}

	oauthClient, err := NewOAuthClient(OAuthConfig{
		ClientID:    c.clientID,
		RedirectURL: c.redirectURL,
		CloudServer: c.cloudServer,
		UUID:        c.uuid,
		TokenURL:    c.tokenURL,
		HTTPClient:  c.httpClient,
	})
	if err != nil {
		return err
	}

	c.oauth = oauthClient
	return nil
}

// AuthURL returns the authorization URL the user must visit to obtain a
// code.
func (c *Client) AuthURL() (string, error) {
	if err := c.ensureOAuth(); err != nil {
		return "", err
	}
	return c.oauth.AuthURL(nil), nil
}

// LoginWithCode exchanges an authorization code, persists the token and
// the freshly fetched user profile, and readies the API client. The
// device/home cache is left alone; call LoadDevices(ctx, true) to renew
// it after login.
func (c *Client) LoginWithCode(ctx context.Context, code string) (*UserInfo, error) {
	if err := c.ensureOAuth(); err != nil {
		return nil, err
	}

	token, err := c.oauth.ExchangeCode(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	if err := c.storage.UpdateToken(token); err != nil {
		return nil, err
	}

	if err := c.setupClients(token); err != nil {
		return nil, err
	}

	info, err := c.api.GetUserInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.storage.UpdateUserInfo(info); err != nil {
		return nil, err
	}

	c.userInfo = info
	return info, nil
}

// RefreshToken refreshes the stored token and swaps it into the API
// client in place. Concurrent callers share a single refresh flight.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		token, err := c.storage.Token()
		if err != nil {
			return nil, err
		}
		if token == nil {
			return nil, &AuthError{Message: "no token found"}
		}

		if err := c.ensureOAuth(); err != nil {
			return nil, err
		}

		newToken, err := c.oauth.Refresh(ctx, token.RefreshToken)
		if err != nil {
			return nil, err
		}
		if err := c.storage.UpdateToken(newToken); err != nil {
			return nil, err
		}

		if c.api != nil {
			c.api.UpdateCredentials(newToken.AccessToken)
		}

		return nil, nil
	})

	return err
}

// withAuthRetry runs an API call and, on a 401, refreshes the token once
// and retries the call exactly once. A second 401 propagates as-is: the
// caller must re-login.
func (c *Client) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if !IsUnauthorized(err) {
		return err
	}

	if refreshErr := c.RefreshToken(ctx); refreshErr != nil {
		return refreshErr
	}

	return fn()
}

// LoadDevices returns the device map, fetching from the cloud when force
// is set or no cache exists. A fetch pulls homes first, persists them,
// then fetches the devices for the deduplicated union of every home's
// and room's device ids. An account with no homes short-circuits to an
// empty map: a device-list call with zero ids is malformed upstream.
func (c *Client) LoadDevices(ctx context.Context, force bool) (map[string]DeviceInfo, error) {
	if c.api == nil {
		return nil, ErrNotLoggedIn
	}

	if c.devices != nil && !force {
		return c.devices, nil
	}

	var homes *HomeResult
	err := c.withAuthRetry(ctx, func() error {
		var err error
		homes, err = c.api.GetHomes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.homes = homes.HomeList
	if err := c.storage.UpdateHomes(c.homes); err != nil {
		return nil, err
	}

	dids := collectDids(c.homes)
	if len(dids) == 0 {
		c.devices = map[string]DeviceInfo{}
		return c.devices, nil
	}

	var devices map[string]DeviceInfo
	err = c.withAuthRetry(ctx, func() error {
		var err error
		devices, err = c.api.GetDevices(ctx, dids)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.devices = devices
	if err := c.storage.UpdateDevices(devices); err != nil {
		return nil, err
	}

	return c.devices, nil
}

// collectDids unions the home-level and room-level device id lists of
// every home, deduplicated, in stable (sorted home id) order.
func collectDids(homes map[string]HomeInfo) []string {
	seen := make(map[string]struct{})
	var dids []string

	for _, homeID := range sortedKeys(homes) {
		home := homes[homeID]
		for _, did := range home.AllDids() {
			if _, ok := seen[did]; ok {
				continue
			}
			seen[did] = struct{}{}
			dids = append(dids, did)
		}
	}

	return dids
}

// Devices returns the cached device map, nil before the first load.
func (c *Client) Devices() map[string]DeviceInfo {
	return c.devices
}

// Device returns the cached device with the given id.
func (c *Client) Device(did string) (DeviceInfo, bool) {
	device, ok := c.devices[did]
	return device, ok
}

// FindDevice resolves a user-supplied query to a device. An exact did
// match wins; otherwise the first device whose name contains the query
// case-insensitively is returned. Candidates are scanned in ascending
// did order so lookups are deterministic; Go map iteration is not.
func (c *Client) FindDevice(query string) (DeviceInfo, bool) {
	if device, ok := c.devices[query]; ok {
		return device, true
	}

	needle := strings.ToLower(query)
	for _, did := range sortedKeys(c.devices) {
		device := c.devices[did]
		if strings.Contains(strings.ToLower(device.Name), needle) {
			return device, true
		}
	}

	return DeviceInfo{}, false
}

// Speakers returns every cached device passing the speaker heuristic,
// in ascending did order.
func (c *Client) Speakers() []DeviceInfo {
	var speakers []DeviceInfo
	for _, did := range sortedKeys(c.devices) {
		if device := c.devices[did]; IsSpeaker(device) {
			speakers = append(speakers, device)
		}
	}
	return speakers
}

// DefaultSpeaker picks the first online speaker, falling back to the
// first speaker regardless of online state.
func (c *Client) DefaultSpeaker() (DeviceInfo, bool) {
	speakers := c.Speakers()
	if len(speakers) == 0 {
		return DeviceInfo{}, false
	}

	for _, speaker := range speakers {
		if speaker.Online {
			return speaker, true
		}
	}

	return speakers[0], true
}

// CreateSpeaker resolves nameOrID (empty means the default speaker) and
// returns a controller for it. The API client is shared; the controller
// is cheap and constructed per operation.
func (c *Client) CreateSpeaker(nameOrID string) (*Speaker, error) {
	if c.api == nil {
		return nil, ErrNotLoggedIn
	}

	var device DeviceInfo
	if nameOrID == "" {
		speaker, ok := c.DefaultSpeaker()
		if !ok {
			return nil, ErrNoSpeakers
		}
		device = speaker
	} else {
		found, ok := c.FindDevice(nameOrID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, nameOrID)
		}
		device = found
	}

	return NewSpeaker(c.api, device, nil)
}

// Speak resolves a speaker and plays text on it, refreshing the token
// once on a 401.
func (c *Client) Speak(ctx context.Context, nameOrID, text string) error {
	speaker, err := c.CreateSpeaker(nameOrID)
	if err != nil {
		return err
	}
	return c.withAuthRetry(ctx, func() error {
		return speaker.Speak(ctx, text)
	})
}

// SendCommand resolves a speaker and simulates a spoken command on it.
func (c *Client) SendCommand(ctx context.Context, nameOrID, text string, silent bool) error {
	speaker, err := c.CreateSpeaker(nameOrID)
	if err != nil {
		return err
	}
	return c.withAuthRetry(ctx, func() error {
		return speaker.SendCommand(ctx, text, silent)
	})
}

// GetProperties reads device properties, refreshing the token once on
// a 401.
func (c *Client) GetProperties(ctx context.Context, props []Property) ([]Property, error) {
	if c.api == nil {
		return nil, ErrNotLoggedIn
	}

	var out []Property
	err := c.withAuthRetry(ctx, func() error {
		var err error
		out, err = c.api.GetProperties(ctx, props)
		return err
	})
	return out, err
}

// SetProperties writes device properties, refreshing the token once on
// a 401.
func (c *Client) SetProperties(ctx context.Context, props []Property) ([]Property, error) {
	if c.api == nil {
		return nil, ErrNotLoggedIn
	}

	var out []Property
	err := c.withAuthRetry(ctx, func() error {
		var err error
		out, err = c.api.SetProperties(ctx, props)
		return err
	})
	return out, err
}

// UserInfo returns the cached account profile, nil before login.
func (c *Client) UserInfo() *UserInfo {
	return c.userInfo
}

// Homes returns the cached home map, nil before the first device load.
func (c *Client) Homes() map[string]HomeInfo {
	return c.homes
}

// IsLoggedIn reports whether a token is persisted.
func (c *Client) IsLoggedIn() (bool, error) {
	return c.storage.HasCredentials()
}

// Storage exposes the credential store, mainly for inspection commands.
func (c *Client) Storage() *Storage {
	return c.storage
}

// Logout deletes all persisted state and resets the in-memory references;
// the client behaves as uninitialized afterwards.
func (c *Client) Logout() error {
	if err := c.storage.Clear(); err != nil {
		return err
	}

	c.oauth = nil
	c.api = nil
	c.devices = nil
	c.homes = nil
	c.userInfo = nil
	c.uuid = ""

	return nil
}

func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
