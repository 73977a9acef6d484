package steamapi

import (
	"steamguard/internal/wire"
)

// Service and enum constants for the authentication flow. Values mirror the
// official protobuf definitions.
const (
	authService      = "IAuthenticationService"
	twoFactorService = "ITwoFactorService"

	platformTypeMobile           = 3
	sessionPersistencePersistent = 1
	guardTypeDeviceCode          = 3
)

// TwoFactorService AddAuthenticator status codes Steam returns in field 1.
const (
	statusOK                    = 1
	statusMustProvidePhone      = 2
	statusAuthenticatorPresent  = 29
	statusMustConfirmEmail      = 84
	statusBadSMSCode            = 89
)

func buildRSARequest(accountName string) []byte {
	w := wire.NewWriter()
	w.String(1, accountName)
	return w.Marshal()
}

type rsaKeyResponse struct {
	ModulusHex  string
	ExponentHex string
	Timestamp   uint64
}

func parseRSAResponse(data []byte) rsaKeyResponse {
	m := wire.Parse(data)
	return rsaKeyResponse{
		ModulusHex:  m.String(1),
		ExponentHex: m.String(2),
		Timestamp:   m.Uint64(3),
	}
}

func buildBeginAuthRequest(accountName, encryptedPassword string, encryptionTimestamp uint64, deviceName string) []byte {
	w := wire.NewWriter()
	w.String(1, deviceName)
	w.String(2, accountName)
	w.String(3, encryptedPassword)
	w.Uint64(4, encryptionTimestamp)
	w.Bool(5, true) // remember_login, deprecated but still sent
	w.Enum(6, platformTypeMobile)
	w.Enum(7, sessionPersistencePersistent)
	w.String(8, "Mobile") // website_id
	w.Uint64(11, 0)       // language: English
	w.Enum(12, 2)         // qos_level: default priority
	return w.Marshal()
}

type beginAuthResponse struct {
	ClientID  uint64
	RequestID []byte
	Interval  uint64
	SteamID   uint64
}

func parseBeginAuthResponse(data []byte) beginAuthResponse {
	m := wire.Parse(data)
	return beginAuthResponse{
		ClientID:  m.Uint64(1),
		RequestID: m.Bytes(2),
		Interval:  m.Uint64(3),
		SteamID:   m.Uint64(5),
	}
}

// buildGuardCodeRequest encodes UpdateAuthSessionWithSteamGuardCode. The
// steamid field is fixed64 here, not varint; encoding it as varint silently
// desyncs from Steam.
func buildGuardCodeRequest(clientID, steamID uint64, code string) []byte {
	w := wire.NewWriter()
	w.Uint64(1, clientID)
	w.Fixed64(2, steamID)
	w.String(3, code)
	w.Enum(4, guardTypeDeviceCode)
	w.Bool(7, true) // persistence
	w.Enum(11, 0)   // language: English
	w.Enum(12, 2)   // qos_level: default priority
	return w.Marshal()
}

// buildPollRequest encodes PollAuthSessionStatus. The request_id must be
// forwarded byte for byte from BeginAuthSessionViaCredentials.
func buildPollRequest(clientID uint64, requestID []byte) []byte {
	w := wire.NewWriter()
	w.Uint64(1, clientID)
	w.Bytes(2, requestID)
	return w.Marshal()
}

type pollResponse struct {
	RefreshToken         string
	AccessToken          string
	HadRemoteInteraction bool
	AccountName          string
}

func parsePollResponse(data []byte) pollResponse {
	m := wire.Parse(data)
	return pollResponse{
		RefreshToken:         m.String(3),
		AccessToken:          m.String(4),
		HadRemoteInteraction: m.Bool(5),
		AccountName:          m.String(6),
	}
}

func buildRefreshRequest(refreshToken string, steamID uint64) []byte {
	w := wire.NewWriter()
	w.String(1, refreshToken)
	w.Fixed64(2, steamID)
	return w.Marshal()
}

type refreshResponse struct {
	AccessToken  string
	RefreshToken string
}

func parseRefreshResponse(data []byte) refreshResponse {
	m := wire.Parse(data)
	return refreshResponse{
		AccessToken:  m.String(1),
		RefreshToken: m.String(2),
	}
}

func buildAddAuthenticatorRequest(steamID uint64, deviceID string) []byte {
	w := wire.NewWriter()
	w.Uint64(1, steamID)
	w.Uint64(2, 1) // authenticator_type: Valve authenticator
	w.String(3, deviceID)
	w.String(4, "1") // sms_phone_id
	w.Uint64(7, 2)   // version
	return w.Marshal()
}

type addAuthenticatorResponse struct {
	Status          uint64
	SharedSecret    []byte
	SerialNumber    string
	RevocationCode  string
	ServerTime      uint64
	TokenGID        string
	IdentitySecret  []byte
	URI             string
	AccountName     string
	PhoneNumberHint string
	ConfirmType     uint64
}

func parseAddAuthenticatorResponse(data []byte) addAuthenticatorResponse {
	m := wire.Parse(data)
	return addAuthenticatorResponse{
		Status:          m.Uint64(1),
		SharedSecret:    m.Bytes(2),
		SerialNumber:    m.String(3),
		RevocationCode:  m.String(4),
		ServerTime:      m.Uint64(5),
		TokenGID:        m.String(6),
		IdentitySecret:  m.Bytes(7),
		URI:             m.String(8),
		AccountName:     m.String(9),
		PhoneNumberHint: m.String(11),
		ConfirmType:     m.Uint64(12),
	}
}

func buildFinalizeRequest(steamID uint64, authenticatorCode string, authenticatorTime uint64, activationCode string) []byte {
	w := wire.NewWriter()
	w.Uint64(1, steamID)
	w.String(2, authenticatorCode)
	w.Uint64(3, authenticatorTime)
	w.String(4, activationCode)
	w.Bool(6, true) // validate_sms_code
	return w.Marshal()
}

type finalizeResponse struct {
	Status     uint64
	ServerTime uint64
	WantMore   bool
	Success    bool
}

func parseFinalizeResponse(data []byte) finalizeResponse {
	m := wire.Parse(data)
	return finalizeResponse{
		Status:     m.Uint64(1),
		ServerTime: m.Uint64(2),
		WantMore:   m.Bool(3),
		Success:    m.Bool(4),
	}
}

func buildQueryStatusRequest(steamID uint64) []byte {
	w := wire.NewWriter()
	w.Uint64(1, steamID)
	return w.Marshal()
}

func parseQueryStatusResponse(data []byte) uint64 {
	return wire.Parse(data).Uint64(1) // authenticator state, >0 means active
}
