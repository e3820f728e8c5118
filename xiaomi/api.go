package xiaomi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// APIConfig configures an APIClient.
type APIConfig struct {
	CloudServer string
	ClientID    string
	AccessToken string

	// BaseURL and ProfileURL override the production endpoints. Tests
	// point them at local servers; production code leaves them empty.
	BaseURL    string
	ProfileURL string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// HomeResult is the outcome of GetHomes: the account uid plus the owned
// and shared home maps, keyed by home id.
type HomeResult struct {
	UID           string
	HomeList      map[string]HomeInfo
	ShareHomeList map[string]HomeInfo
}

// APIClient issues authenticated requests to the regional device API and
// the separate account-profile host. It holds the live access token;
// UpdateCredentials swaps it mid-session without reconstructing the
// client.
type APIClient struct {
	httpClient  *http.Client
	host        string
	baseURL     string
	profileURL  string
	clientID    string
	accessToken string
}

// NewAPIClient validates the config and resolves the regional API host.
func NewAPIClient(cfg APIConfig) (*APIClient, error) {
	if cfg.CloudServer == "" || cfg.ClientID == "" || cfg.AccessToken == "" {
		return nil, &APIError{Message: "invalid API client configuration"}
	}

	server, ok := CloudServers[cfg.CloudServer]
	if !ok {
		return nil, &APIError{Message: fmt.Sprintf("invalid cloud server: %s", cfg.CloudServer)}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + server.APIHost
	}
	profileURL := cfg.ProfileURL
	if profileURL == "" {
		profileURL = ProfileURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &APIClient{
		httpClient:  httpClient,
		host:        server.APIHost,
		baseURL:     baseURL,
		profileURL:  profileURL,
		clientID:    cfg.ClientID,
		accessToken: cfg.AccessToken,
	}, nil
}

// UpdateCredentials replaces the access token after a refresh.
func (c *APIClient) UpdateCredentials(accessToken string) {
	c.accessToken = accessToken
}

// headers returns the device-API request headers. The Authorization value
// has no space after "Bearer"; the platform requires this exact form.
func (c *APIClient) headers() http.Header {
	h := http.Header{}
	h.Set("Host", c.host)
	h.Set("X-Client-BizId", "haapi")
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer"+c.accessToken)
	h.Set("X-Client-AppId", c.clientID)
	return h
}

// post sends a JSON POST to the device API and returns the result portion
// of the {code, result} envelope. A 401 maps to AuthError so the facade
// can attempt a refresh; any other failure is terminal for the call.
func (c *APIClient) post(ctx context.Context, path string, body any, timeout time.Duration) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.headers()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Code: 401, Message: "unauthorized"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: resp.StatusCode, Message: fmt.Sprintf("%s returned status %d", path, resp.StatusCode)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", path, err)
	}

	if envelope.Code != 0 {
		msg := envelope.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &APIError{Code: envelope.Code, Message: msg}
	}

	return envelope.Result, nil
}

// GetUserInfo fetches the account profile. The profile host answers a
// {code, data} envelope, unlike the device API's {code, result}.
func (c *APIClient) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	params := url.Values{}
	params.Set("clientId", c.clientID)
	params.Set("token", c.accessToken)

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating profile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Code: 401, Message: "unauthorized"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading profile response: %w", err)
	}

	var envelope struct {
		Code int       `json:"code"`
		Data *UserInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("invalid user info response: %s", body)}
	}
	if envelope.Code != 0 || envelope.Data == nil || envelope.Data.MiliaoNick == "" {
		return nil, &APIError{Code: envelope.Code, Message: fmt.Sprintf("invalid user info response: %s", body)}
	}

	return envelope.Data, nil
}

// GetHomes lists the account's homes and shared homes with their rooms.
// Raw entries missing id, name or roomlist are skipped, never an error:
// the upstream list routinely carries half-initialized homes.
func (c *APIClient) GetHomes(ctx context.Context) (*HomeResult, error) {
	result, err := c.post(ctx, "/app/v2/homeroom/gethome", map[string]any{
		"limit":           150,
		"fetch_share":     true,
		"fetch_share_dev": true,
		"plat_form":       0,
		"app_ver":         9,
	}, apiTimeout)
	if err != nil {
		return nil, err
	}

	homes := &HomeResult{
		HomeList:      make(map[string]HomeInfo),
		ShareHomeList: make(map[string]HomeInfo),
	}

	raw := gjson.ParseBytes(result)
	for _, source := range []string{"homelist", "share_home_list"} {
		for _, home := range raw.Get(source).Array() {
			id := home.Get("id").String()
			name := home.Get("name").String()
			if id == "" || name == "" || !home.Get("roomlist").Exists() {
				continue
			}

			uid := home.Get("uid").String()
			if homes.UID == "" && source == "homelist" {
				homes.UID = uid
			}

			rooms := make(map[string]RoomInfo)
			for _, room := range home.Get("roomlist").Array() {
				roomID := room.Get("id").String()
				if roomID == "" {
					continue
				}
				rooms[roomID] = RoomInfo{
					RoomID:   roomID,
					RoomName: room.Get("name").String(),
					Dids:     stringList(room.Get("dids")),
				}
			}

			info := HomeInfo{
				HomeID:   id,
				HomeName: name,
				UID:      uid,
				Dids:     stringList(home.Get("dids")),
				Rooms:    rooms,
			}

			if source == "homelist" {
				homes.HomeList[id] = info
			} else {
				homes.ShareHomeList[id] = info
			}
		}
	}

	return homes, nil
}

// GetDevices fetches device details for the given ids. Router devices
// (did prefix "miwifi.") are not controllable and are dropped here, as
// are entries missing any of did/name/model/spec_type.
func (c *APIClient) GetDevices(ctx context.Context, dids []string) (map[string]DeviceInfo, error) {
	result, err := c.post(ctx, "/app/v2/home/device_list_page", map[string]any{
		"dids":             dids,
		"limit":            200,
		"get_split_device": true,
		"get_third_device": true,
	}, apiTimeout)
	if err != nil {
		return nil, err
	}

	devices := make(map[string]DeviceInfo)
	for _, device := range gjson.GetBytes(result, "list").Array() {
		did := device.Get("did").String()
		if strings.HasPrefix(did, "miwifi.") {
			continue
		}

		name := device.Get("name").String()
		model := device.Get("model").String()
		specType := device.Get("spec_type").String()
		if did == "" || name == "" || model == "" || specType == "" {
			continue
		}

		online := true
		if v := device.Get("isOnline"); v.Exists() && !v.Bool() {
			online = false
		}

		devices[did] = DeviceInfo{
			Did:         did,
			Model:       model,
			Name:        name,
			Type:        specType,
			ParentID:    device.Get("parent_id").String(),
			ParentModel: device.Get("parent_model").String(),
			Online:      online,
			SpecType:    specType,
		}
	}

	return devices, nil
}

// GetProperties reads a batch of properties by did/siid/piid.
func (c *APIClient) GetProperties(ctx context.Context, props []Property) ([]Property, error) {
	params := make([]map[string]any, len(props))
	for i, p := range props {
		params[i] = map[string]any{"did": p.Did, "siid": p.SIID, "piid": p.PIID}
	}

	result, err := c.post(ctx, "/app/v2/miotspec/prop/get", map[string]any{"params": params}, apiTimeout)
	if err != nil {
		return nil, err
	}

	return decodeProperties(result)
}

// SetProperties writes a batch of properties by did/siid/piid/value.
func (c *APIClient) SetProperties(ctx context.Context, props []Property) ([]Property, error) {
	params := make([]map[string]any, len(props))
	for i, p := range props {
		params[i] = map[string]any{"did": p.Did, "siid": p.SIID, "piid": p.PIID, "value": p.Value}
	}

	result, err := c.post(ctx, "/app/v2/miotspec/prop/set", map[string]any{"params": params}, apiTimeout)
	if err != nil {
		return nil, err
	}

	return decodeProperties(result)
}

// ExecuteAction invokes a device action. Actions run with the shorter
// action timeout since the call blocks on the device itself.
func (c *APIClient) ExecuteAction(ctx context.Context, action Action) (ActionResult, error) {
	in := action.In
	if in == nil {
		in = []any{}
	}

	result, err := c.post(ctx, "/app/v2/miotspec/action", map[string]any{
		"params": map[string]any{
			"did":  action.Did,
			"siid": action.SIID,
			"aiid": action.AIID,
			"in":   in,
		},
	}, actionTimeout)
	if err != nil {
		return ActionResult{}, err
	}

	var out ActionResult
	if len(result) > 0 {
		if err := json.Unmarshal(result, &out); err != nil {
			return ActionResult{}, fmt.Errorf("decoding action result: %w", err)
		}
	}

	return out, nil
}

func decodeProperties(raw json.RawMessage) ([]Property, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Property{}, nil
	}

	var props []Property
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}

	return props, nil
}

func stringList(r gjson.Result) []string {
	items := r.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}
