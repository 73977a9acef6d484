// Package account holds the durable identity record for one Steam account
// and the transient session attached to it.
package account

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Secret is raw key material stored as standard base64 in JSON.
type Secret []byte

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(s))
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var enc string
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}
	if enc == "" {
		*s = nil
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}
	*s = raw
	return nil
}

// SteamID is a 64-bit Steam identifier. On disk it appears both as a JSON
// number (SDA maFiles) and as a decimal string (our own files); both forms
// decode, and encoding always emits the string form for interop.
type SteamID uint64

func (id SteamID) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(id), 10))
}

func (id *SteamID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			*id = 0
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse steamid %q: %w", v, err)
		}
		*id = SteamID(n)
	case float64:
		// json.Unmarshal into any loses precision above 2^53; re-parse
		// from the raw token instead.
		n, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("parse steamid %s: %w", data, err)
		}
		*id = SteamID(n)
	case nil:
		*id = 0
	default:
		return fmt.Errorf("unexpected steamid type %T", raw)
	}
	return nil
}

// String returns the decimal form.
func (id SteamID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Session holds the JWT pair issued at login plus the unix time it was last
// written.
type Session struct {
	AccessToken    string `json:"access_token,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	TokenUpdatedAt int64  `json:"token_timestamp,omitempty"`
}

// TokenExpiry decodes the unverified exp claim of a Steam JWT. This is a
// local expiry probe only; no signature check is wanted or possible here.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AccessTokenValid reports whether the access token exists and has not
// passed its exp claim.
func (s Session) AccessTokenValid(now time.Time) bool {
	exp, ok := TokenExpiry(s.AccessToken)
	return ok && exp.After(now)
}

// RefreshTokenValid reports whether the refresh token exists and has not
// passed its exp claim.
func (s Session) RefreshTokenValid(now time.Time) bool {
	exp, ok := TokenExpiry(s.RefreshToken)
	return ok && exp.After(now)
}

// Account is the durable record for one enrolled Steam account.
//
// SharedSecret and IdentitySecret are immutable once set: regenerating them
// invalidates every previously issued Guard code and pending confirmation.
// DeviceID likewise must stay stable across runs or Steam's confirmation
// history desynchronizes. Only Session is mutated after creation.
type Account struct {
	AccountName    string  `json:"account_name"`
	SteamID        SteamID `json:"steamid"`
	SharedSecret   Secret  `json:"shared_secret"`
	IdentitySecret Secret  `json:"identity_secret,omitempty"`
	DeviceID       string  `json:"device_id"`
	Session        Session `json:"session"`

	// Enrollment artifacts, set once when the authenticator is linked.
	RevocationCode string `json:"revocation_code,omitempty"`
	SerialNumber   string `json:"serial_number,omitempty"`
	URI            string `json:"uri,omitempty"`
	TokenGID       string `json:"token_gid,omitempty"`

	// Profile enrichment from the public Web API. Informational only;
	// never consulted by any protocol operation.
	DisplayName     string `json:"display_name,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	VACBanned       bool   `json:"vac_banned,omitempty"`
	CommunityBanned bool   `json:"community_banned,omitempty"`
	GameCount       int    `json:"game_count,omitempty"`
}

// sdaSession is the session shape written by the Windows Steam Desktop
// Authenticator.
type sdaSession struct {
	SteamID      SteamID `json:"SteamID"`
	AccessToken  string  `json:"AccessToken"`
	RefreshToken string  `json:"RefreshToken"`
}

// UnmarshalJSON accepts both our own maFile layout and the SDA dialect,
// where the steamid and tokens live under a capitalized "Session" object.
func (a *Account) UnmarshalJSON(data []byte) error {
	type plain Account
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Account(p)

	var compat struct {
		Session sdaSession `json:"Session"`
	}
	if err := json.Unmarshal(data, &compat); err != nil {
		return err
	}
	if a.SteamID == 0 {
		a.SteamID = compat.Session.SteamID
	}
	if a.Session.AccessToken == "" {
		a.Session.AccessToken = compat.Session.AccessToken
	}
	if a.Session.RefreshToken == "" {
		a.Session.RefreshToken = compat.Session.RefreshToken
	}
	return nil
}

// SetTokens replaces the session token pair and stamps the update time.
func (a *Account) SetTokens(accessToken, refreshToken string, now time.Time) {
	if accessToken != "" {
		a.Session.AccessToken = accessToken
	}
	if refreshToken != "" {
		a.Session.RefreshToken = refreshToken
	}
	a.Session.TokenUpdatedAt = now.Unix()
}

// Validate checks the fields every protocol operation depends on.
func (a *Account) Validate() error {
	if a.AccountName == "" {
		return fmt.Errorf("account has no account_name")
	}
	if len(a.SharedSecret) == 0 {
		return fmt.Errorf("account %s has no shared_secret", a.AccountName)
	}
	return nil
}
