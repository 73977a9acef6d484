package steamapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"time"
)

// GuardCodeFunc supplies a Steam Guard code when the login flow needs one.
// Returning an empty code without an error means the caller wants to resume
// later via Complete2FA.
type GuardCodeFunc func(ctx context.Context) (string, error)

// LoginResult is the outcome of a credential login. Either the token pair is
// populated, or Needs2FA is set with the triple required to resume the
// session once the user has entered a code.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	AccountName  string
	SteamID      uint64

	Needs2FA  bool
	ClientID  uint64
	RequestID []byte
}

// LoginSession drives the credential login state machine: RSA key fetch,
// password encryption, session begin, optional Guard code, token polling.
// One session serves one login attempt; discard it afterwards.
type LoginSession struct {
	Transport  *Transport
	DeviceName string

	// Polling knobs. The 30 x 1s defaults match the Steam mobile client;
	// exceeding the cap is a terminal failure, not silently retried.
	PollInterval    time.Duration
	MaxPollAttempts int

	Logger *log.Logger
}

// NewLoginSession returns a session with production defaults and a randomly
// suffixed device name.
func NewLoginSession(t *Transport) *LoginSession {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return &LoginSession{
		Transport:       t,
		DeviceName:      fmt.Sprintf("Steam Authenticator %x", suffix),
		PollInterval:    time.Second,
		MaxPollAttempts: 30,
	}
}

func (s *LoginSession) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Login runs the full credential flow. When a 2FA code is required and
// codeFn is nil (or returns an empty code), the returned result carries
// Needs2FA with the client_id/request_id/steamid triple for Complete2FA.
func (s *LoginSession) Login(ctx context.Context, accountName, password string, codeFn GuardCodeFunc) (*LoginResult, error) {
	rsaKey, err := s.fetchRSAKey(ctx, accountName)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptPassword(password, rsaKey.ModulusHex, rsaKey.ExponentHex)
	if err != nil {
		return nil, err
	}

	body, err := s.Transport.Call(ctx, authService, "BeginAuthSessionViaCredentials", 1,
		buildBeginAuthRequest(accountName, encrypted, rsaKey.Timestamp, s.DeviceName), "", false)
	if err != nil {
		return nil, err
	}
	begin := parseBeginAuthResponse(body)
	if begin.ClientID == 0 {
		return nil, &ProtocolError{Message: "BeginAuthSessionViaCredentials returned no client_id"}
	}
	s.logf("auth session begun for %s (steamid %d)", accountName, begin.SteamID)

	if codeFn != nil {
		code, err := codeFn(ctx)
		if err != nil {
			return nil, err
		}
		if code != "" {
			if err := s.submitGuardCode(ctx, begin.ClientID, begin.SteamID, code); err != nil {
				return nil, err
			}
			return s.PollTokens(ctx, begin.ClientID, begin.RequestID, begin.SteamID)
		}
	}

	return &LoginResult{
		Needs2FA:  true,
		ClientID:  begin.ClientID,
		RequestID: begin.RequestID,
		SteamID:   begin.SteamID,
	}, nil
}

// Complete2FA resumes a login that returned Needs2FA, using the same
// client_id/request_id/steamid triple.
func (s *LoginSession) Complete2FA(ctx context.Context, clientID uint64, requestID []byte, steamID uint64, code string) (*LoginResult, error) {
	if err := s.submitGuardCode(ctx, clientID, steamID, code); err != nil {
		return nil, err
	}
	return s.PollTokens(ctx, clientID, requestID, steamID)
}

// RefreshAccessToken exchanges a refresh token for a new access token via
// GenerateAccessTokenForApp. Standalone single call, no session state.
func (s *LoginSession) RefreshAccessToken(ctx context.Context, refreshToken string, steamID uint64) (string, error) {
	body, err := s.Transport.Call(ctx, authService, "GenerateAccessTokenForApp", 1,
		buildRefreshRequest(refreshToken, steamID), "", false)
	if err != nil {
		return "", err
	}
	resp := parseRefreshResponse(body)
	if resp.AccessToken == "" {
		return "", &ProtocolError{Message: "GenerateAccessTokenForApp returned no access token"}
	}
	s.logf("access token refreshed for steamid %d", steamID)
	return resp.AccessToken, nil
}

func (s *LoginSession) fetchRSAKey(ctx context.Context, accountName string) (rsaKeyResponse, error) {
	body, err := s.Transport.Call(ctx, authService, "GetPasswordRSAPublicKey", 1,
		buildRSARequest(accountName), "", true)
	if err != nil {
		return rsaKeyResponse{}, err
	}
	key := parseRSAResponse(body)
	if key.ModulusHex == "" || key.ExponentHex == "" {
		return rsaKeyResponse{}, &ProtocolError{Message: "GetPasswordRSAPublicKey returned no key"}
	}
	return key, nil
}

// encryptPassword builds the RSA public key from Steam's hex modulus and
// exponent and encrypts the UTF-8 password with PKCS#1 v1.5 padding.
func encryptPassword(password, modulusHex, exponentHex string) (string, error) {
	modulus, ok := new(big.Int).SetString(modulusHex, 16)
	if !ok {
		return "", fmt.Errorf("invalid RSA modulus")
	}
	expBytes, err := hex.DecodeString(exponentHex)
	if err != nil {
		return "", fmt.Errorf("invalid RSA exponent: %w", err)
	}
	exponent := new(big.Int).SetBytes(expBytes)

	pub := &rsa.PublicKey{N: modulus, E: int(exponent.Int64())}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (s *LoginSession) submitGuardCode(ctx context.Context, clientID, steamID uint64, code string) error {
	_, err := s.Transport.Call(ctx, authService, "UpdateAuthSessionWithSteamGuardCode", 1,
		buildGuardCodeRequest(clientID, steamID, code), "", false)
	return err
}

// PollTokens calls PollAuthSessionStatus once per PollInterval until Steam
// issues tokens. Responses with no tokens are "still waiting" regardless of
// the had_remote_interaction flag; exhausting MaxPollAttempts is a timeout
// and the session must be discarded.
func (s *LoginSession) PollTokens(ctx context.Context, clientID uint64, requestID []byte, steamID uint64) (*LoginResult, error) {
	for attempt := 0; attempt < s.MaxPollAttempts; attempt++ {
		body, err := s.Transport.Call(ctx, authService, "PollAuthSessionStatus", 1,
			buildPollRequest(clientID, requestID), "", false)
		if err != nil {
			return nil, err
		}
		resp := parsePollResponse(body)
		if resp.AccessToken != "" || resp.RefreshToken != "" {
			s.logf("login complete for %s", resp.AccountName)
			return &LoginResult{
				AccessToken:  resp.AccessToken,
				RefreshToken: resp.RefreshToken,
				AccountName:  resp.AccountName,
				SteamID:      steamID,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.PollInterval):
		}
	}
	return nil, ErrLoginTimeout
}
