// Package xiaomi is a client library for the Xiaomi Home cloud platform.
// It handles the OAuth2 authorization-code flow, discovers the devices
// registered to an account, and drives XiaoAI speakers over the MIoT
// action API (text-to-speech and simulated voice commands).
package xiaomi

import "time"

const (
	// DefaultClientID is the OAuth2 client id of the Home Assistant
	// integration, which this library mimics.
	DefaultClientID = "2882303761520251711"

	// DefaultRedirectURL mimics a Home Assistant install, matching the
	// redirect registered for DefaultClientID.
	DefaultRedirectURL = "http://homeassistant.local:8123"

	// AuthorizeURL is the account-host authorization endpoint.
	AuthorizeURL = "https://account.xiaomi.com/oauth2/authorize"

	// ProfileURL is the user-profile endpoint. It lives on the account
	// host, not the regional API host, and answers a different envelope.
	ProfileURL = "https://open.account.xiaomi.com/user/profile"

	defaultAPIHost = "ha.api.io.mi.com"
)

const (
	// tokenExpiresRatio scales expires_in when computing ExpiresTS so
	// tokens are refreshed well before they hard-expire.
	tokenExpiresRatio = 0.7

	// apiTimeout bounds every metadata read and token call.
	apiTimeout = 30 * time.Second

	// actionTimeout bounds action execution. Actions block on the device
	// (e.g. speech playback), so they get a shorter budget than reads.
	actionTimeout = 15 * time.Second
)

// CloudServer identifies a regional Xiaomi cloud deployment.
type CloudServer struct {
	ID        string
	Name      string
	OAuthHost string
	APIHost   string
}

// CloudServers maps region ids to their hosts. The cn region uses the
// bare API host; every other region prefixes it.
var CloudServers = map[string]CloudServer{
	"cn": {ID: "cn", Name: "China Mainland", OAuthHost: defaultAPIHost, APIHost: defaultAPIHost},
	"de": {ID: "de", Name: "Europe", OAuthHost: "de." + defaultAPIHost, APIHost: "de." + defaultAPIHost},
	"i2": {ID: "i2", Name: "India", OAuthHost: "i2." + defaultAPIHost, APIHost: "i2." + defaultAPIHost},
	"ru": {ID: "ru", Name: "Russia", OAuthHost: "ru." + defaultAPIHost, APIHost: "ru." + defaultAPIHost},
	"sg": {ID: "sg", Name: "Singapore", OAuthHost: "sg." + defaultAPIHost, APIHost: "sg." + defaultAPIHost},
	"us": {ID: "us", Name: "United States", OAuthHost: "us." + defaultAPIHost, APIHost: "us." + defaultAPIHost},
}

// OAuthToken is an issued access/refresh token pair. ExpiresTS is the
// epoch second after which a refresh should be attempted; it is computed
// at issue time as now + ExpiresIn*0.7, not the hard expiry.
type OAuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresTS    int64  `json:"expires_ts"`
}

// Expired reports whether the token should be refreshed at the given time.
func (t *OAuthToken) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresTS
}

// UserInfo is the account profile. Immutable once fetched until re-login.
type UserInfo struct {
	UserID        string `json:"userId"`
	MiliaoNick    string `json:"miliaoNick"`
	MiliaoIcon    string `json:"miliaoIcon,omitempty"`
	MiliaoIconURL string `json:"miliaoIconUrl,omitempty"`
}

// RoomInfo is a room within a home. Dids lists the devices assigned to
// the room; a device may also appear in the home-level list.
type RoomInfo struct {
	RoomID   string   `json:"room_id"`
	RoomName string   `json:"room_name"`
	Dids     []string `json:"dids"`
}

// HomeInfo is a home and its rooms. Device ids are plain strings; devices
// are looked up by id in the device map, never referenced directly.
type HomeInfo struct {
	HomeID   string              `json:"home_id"`
	HomeName string              `json:"home_name"`
	UID      string              `json:"uid"`
	Dids     []string            `json:"dids"`
	Rooms    map[string]RoomInfo `json:"room_info"`
}

// AllDids returns the deduplicated union of the home-level device list
// and every room's device list, preserving first-seen order. A room does
// not remove a device from the home-level list, so the same did can show
// up in both.
func (h *HomeInfo) AllDids() []string {
	seen := make(map[string]struct{}, len(h.Dids))
	var dids []string

	add := func(did string) {
		if _, ok := seen[did]; ok {
			return
		}
		seen[did] = struct{}{}
		dids = append(dids, did)
	}

	for _, did := range h.Dids {
		add(did)
	}
	for _, room := range h.Rooms {
		for _, did := range room.Dids {
			add(did)
		}
	}

	return dids
}

// DeviceInfo describes one controllable device. ParentID/ParentModel are
// non-owning back-references for sub-devices, used only for filtering.
type DeviceInfo struct {
	Did         string `json:"did"`
	Model       string `json:"model"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	ParentID    string `json:"parent_id,omitempty"`
	ParentModel string `json:"parent_model,omitempty"`
	Online      bool   `json:"online"`
	SpecType    string `json:"spec_type,omitempty"`
}

// Property addresses one device property by did/siid/piid. Value is set
// on writes and filled in on reads; Code carries the per-entry result.
type Property struct {
	Did   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Action addresses one device action by did/siid/aiid with its input
// parameters in declaration order.
type Action struct {
	Did  string `json:"did"`
	SIID int    `json:"siid"`
	AIID int    `json:"aiid"`
	In   []any  `json:"in"`
}

// ActionResult is the outcome of an action invocation. A non-zero Code
// means the device rejected or failed the action.
type ActionResult struct {
	Code int   `json:"code"`
	Out  []any `json:"out,omitempty"`
}

// Config is the persisted aggregate: everything the client needs to come
// back up without re-authorizing. It is written wholesale on every update
// and must stay field-compatible with existing xiaomi_config.json files,
// so unknown fields are tolerated on read and optional fields default to
// their zero values.
type Config struct {
	CloudServer string                `json:"cloud_server"`
	ClientID    string                `json:"client_id"`
	RedirectURL string                `json:"redirect_url"`
	UUID        string                `json:"uuid,omitempty"`
	Token       *OAuthToken           `json:"token,omitempty"`
	UserInfo    *UserInfo             `json:"user_info,omitempty"`
	Devices     map[string]DeviceInfo `json:"devices,omitempty"`
	Homes       map[string]HomeInfo   `json:"homes,omitempty"`
}
