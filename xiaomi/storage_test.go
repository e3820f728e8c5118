package xiaomi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	return NewStorage(t.TempDir())
}

// --- Load ---

func TestLoad_MissingFileReturnsNilNotError(t *testing.T) {
	s := newTestStorage(t)

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_CorruptFileIsStorageError(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{not json`), 0o600))

	_, err := s.Load()
	require.Error(t, err)
	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestLoad_ToleratesUnknownFields(t *testing.T) {
	s := newTestStorage(t)
	doc := `{"cloud_server":"de","uuid":"u1","some_future_field":{"x":1}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o600))

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "de", cfg.CloudServer)
	assert.Equal(t, "u1", cfg.UUID)
	assert.Nil(t, cfg.Token)
}

// --- Save / round-trip ---

func TestSave_CreatesDirectoryOnDemand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "xiaomi")
	s := NewStorage(dir)

	require.NoError(t, s.Save(&Config{CloudServer: "cn"}))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSave_RoundTripIsSemanticallyEqual(t *testing.T) {
	s := newTestStorage(t)
	original := &Config{
		CloudServer: "sg",
		ClientID:    DefaultClientID,
		RedirectURL: DefaultRedirectURL,
		UUID:        "abc",
		Token: &OAuthToken{
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresIn:    3600,
			ExpiresTS:    1700000000,
		},
		UserInfo: &UserInfo{UserID: "42", MiliaoNick: "nick"},
		Devices: map[string]DeviceInfo{
			"d1": {Did: "d1", Model: "m", Name: "n", Type: "speaker", Online: true, SpecType: "speaker"},
		},
		Homes: map[string]HomeInfo{
			"h1": {HomeID: "h1", HomeName: "Home", UID: "42", Dids: []string{"d1"}},
		},
	}
	require.NoError(t, s.Save(original))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Save(loaded))

	reloaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, original, reloaded)
}

func TestSave_FilePermissions(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Save(&Config{}))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "config holds tokens, must be 0600")
}

// --- Updates preserve other fields ---

func TestUpdateToken_PreservesOtherFields(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Save(&Config{
		CloudServer: "ru",
		ClientID:    "123",
		RedirectURL: "http://r",
		UUID:        "u1",
		UserInfo:    &UserInfo{UserID: "9", MiliaoNick: "n"},
	}))

	require.NoError(t, s.UpdateToken(&OAuthToken{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 10, ExpiresTS: 99}))

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "ru", cfg.CloudServer)
	assert.Equal(t, "u1", cfg.UUID)
	require.NotNil(t, cfg.UserInfo)
	assert.Equal(t, "n", cfg.UserInfo.MiliaoNick)
	require.NotNil(t, cfg.Token)
	assert.Equal(t, "at", cfg.Token.AccessToken)
}

func TestUpdateDevicesAndHomes_IncrementalPopulation(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.UpdateUUID("u2"))
	require.NoError(t, s.UpdateToken(&OAuthToken{AccessToken: "a", RefreshToken: "r", ExpiresIn: 1, ExpiresTS: 1}))
	require.NoError(t, s.UpdateHomes(map[string]HomeInfo{"h": {HomeID: "h", HomeName: "H"}}))
	require.NoError(t, s.UpdateDevices(map[string]DeviceInfo{"d": {Did: "d", Name: "D", Model: "m", Type: "t"}}))

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "u2", cfg.UUID)
	assert.NotNil(t, cfg.Token)
	assert.Len(t, cfg.Homes, 1)
	assert.Len(t, cfg.Devices, 1)
}

func TestUpdateToken_OnEmptyStoreSeedsDefaults(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.UpdateToken(&OAuthToken{AccessToken: "a", RefreshToken: "r", ExpiresIn: 1, ExpiresTS: 1}))

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "cn", cfg.CloudServer)
	assert.Equal(t, DefaultClientID, cfg.ClientID)
}

// --- HasCredentials / Token / Clear ---

func TestHasCredentials_OnlyTrueWithToken(t *testing.T) {
	s := newTestStorage(t)

	has, err := s.HasCredentials()
	require.NoError(t, err)
	assert.False(t, has, "absent file means no credentials")

	require.NoError(t, s.UpdateUUID("u"))
	has, err = s.HasCredentials()
	require.NoError(t, err)
	assert.False(t, has, "uuid alone is not a credential")

	require.NoError(t, s.UpdateToken(&OAuthToken{AccessToken: "a", RefreshToken: "r", ExpiresIn: 1, ExpiresTS: 1}))
	has, err = s.HasCredentials()
	require.NoError(t, err)
	assert.True(t, has)
}

func TestToken_AbsentReturnsNil(t *testing.T) {
	s := newTestStorage(t)

	token, err := s.Token()
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestClear_DeletesFile(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Save(&Config{UUID: "u"}))

	require.NoError(t, s.Clear())

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestClear_MissingFileSucceeds(t *testing.T) {
	s := newTestStorage(t)
	assert.NoError(t, s.Clear())
}

// --- wire format ---

func TestSave_WireFormatFieldNames(t *testing.T) {
	// The file must stay compatible with existing xiaomi_config.json
	// documents, so the JSON keys are load-bearing.
	s := newTestStorage(t)
	require.NoError(t, s.Save(&Config{
		CloudServer: "cn",
		ClientID:    "123",
		RedirectURL: "http://r",
		UUID:        "u",
		Token:       &OAuthToken{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600, ExpiresTS: 7},
		UserInfo:    &UserInfo{UserID: "9", MiliaoNick: "n"},
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"cloud_server", "client_id", "redirect_url", "uuid", "token", "user_info"} {
		assert.Contains(t, doc, key)
	}

	var token map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["token"], &token))
	for _, key := range []string{"access_token", "refresh_token", "expires_in", "expires_ts"} {
		assert.Contains(t, token, key)
	}
}
