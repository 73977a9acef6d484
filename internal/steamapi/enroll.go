package steamapi

import (
	"context"
	"errors"
	"log"
	"time"

	"steamguard/internal/account"
	"steamguard/internal/guard"
)

// Enrollment holds the secrets AddAuthenticator issues, alive from the Add
// call until Finalize succeeds or the flow is abandoned.
type Enrollment struct {
	SharedSecret   []byte
	IdentitySecret []byte
	RevocationCode string
	SerialNumber   string
	TokenGID       string
	URI            string
	ServerTime     uint64

	// ConfirmType says how Steam delivers the activation code:
	// 1 = SMS, 3 = email.
	ConfirmType     int
	PhoneNumberHint string
}

// EnrollmentSession drives attaching a new authenticator to an account. It
// borrows the access token and steamid from a completed login.
type EnrollmentSession struct {
	Transport   *Transport
	AccessToken string
	SteamID     uint64
	DeviceID    string

	// Finalize knobs. Steam sometimes demands several rounds; the 30-round
	// cap and 0.5s spacing are empirical, hence configurable.
	MaxFinalizeRounds int
	FinalizeDelay     time.Duration

	Logger *log.Logger
}

// NewEnrollmentSession returns a session with production defaults. The
// deviceID must be the one that will be stored on the resulting account.
func NewEnrollmentSession(t *Transport, accessToken string, steamID uint64, deviceID string) *EnrollmentSession {
	return &EnrollmentSession{
		Transport:         t,
		AccessToken:       accessToken,
		SteamID:           steamID,
		DeviceID:          deviceID,
		MaxFinalizeRounds: 30,
		FinalizeDelay:     500 * time.Millisecond,
	}
}

func (s *EnrollmentSession) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// AddAuthenticator asks Steam to issue authenticator secrets. The
// non-success statuses each map to a distinct error so the UI can give
// concrete guidance instead of a generic failure.
func (s *EnrollmentSession) AddAuthenticator(ctx context.Context) (*Enrollment, error) {
	body, err := s.Transport.Call(ctx, twoFactorService, "AddAuthenticator", 1,
		buildAddAuthenticatorRequest(s.SteamID, s.DeviceID), s.AccessToken, false)
	if err != nil {
		return nil, err
	}

	resp := parseAddAuthenticatorResponse(body)
	switch resp.Status {
	case statusOK:
	case statusAuthenticatorPresent:
		return nil, ErrAlreadyEnrolled
	case statusMustProvidePhone:
		return nil, ErrNeedsPhone
	case statusMustConfirmEmail:
		return nil, ErrNeedsEmailConfirmation
	default:
		return nil, &ProtocolError{EResult: int(resp.Status), Message: "AddAuthenticator failed"}
	}
	if len(resp.SharedSecret) == 0 || len(resp.IdentitySecret) == 0 {
		return nil, &ProtocolError{Message: "AddAuthenticator returned no secrets"}
	}

	s.logf("authenticator issued for steamid %d (confirm type %d)", s.SteamID, resp.ConfirmType)
	return &Enrollment{
		SharedSecret:    resp.SharedSecret,
		IdentitySecret:  resp.IdentitySecret,
		RevocationCode:  resp.RevocationCode,
		SerialNumber:    resp.SerialNumber,
		TokenGID:        resp.TokenGID,
		URI:             resp.URI,
		ServerTime:      resp.ServerTime,
		ConfirmType:     int(resp.ConfirmType),
		PhoneNumberHint: resp.PhoneNumberHint,
	}, nil
}

// Finalize submits the user-entered SMS/email code. Steam may answer "want
// more" with a newer server time; each round regenerates the authenticator
// code from that time and resubmits the same activation code. Status 89 is
// a bad code the user may re-enter; exhausting the round cap is a timeout.
func (s *EnrollmentSession) Finalize(ctx context.Context, enr *Enrollment, activationCode string) error {
	serverTime := enr.ServerTime

	for round := 0; round < s.MaxFinalizeRounds; round++ {
		authCode := guard.GenerateCode(enr.SharedSecret, int64(serverTime))
		body, err := s.Transport.Call(ctx, twoFactorService, "FinalizeAddAuthenticator", 1,
			buildFinalizeRequest(s.SteamID, authCode, serverTime/30, activationCode), s.AccessToken, false)
		if err != nil {
			return err
		}

		resp := parseFinalizeResponse(body)
		if resp.Status == statusBadSMSCode {
			return ErrBadVerificationCode
		}
		if resp.Status != statusOK {
			return &ProtocolError{EResult: int(resp.Status), Message: "FinalizeAddAuthenticator failed"}
		}
		if resp.Success {
			s.logf("authenticator finalized after %d round(s)", round+1)
			return nil
		}
		if !resp.WantMore {
			return &ProtocolError{Message: "FinalizeAddAuthenticator neither succeeded nor asked for more"}
		}

		if resp.ServerTime != 0 {
			serverTime = resp.ServerTime
		} else {
			serverTime += 30
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.FinalizeDelay):
		}
	}
	return ErrEnrollTimeout
}

// QueryStatus reports whether the authenticator is actually active. Steam
// can accept a Finalize and still not activate, so enrollment must check
// this before declaring success.
func (s *EnrollmentSession) QueryStatus(ctx context.Context) (bool, error) {
	body, err := s.Transport.Call(ctx, twoFactorService, "QueryStatus", 1,
		buildQueryStatusRequest(s.SteamID), s.AccessToken, false)
	if err != nil {
		return false, err
	}
	return parseQueryStatusResponse(body) > 0, nil
}

// BuildAccount assembles the durable record from the enrollment secrets and
// the login's token pair.
func (s *EnrollmentSession) BuildAccount(enr *Enrollment, accountName, refreshToken string) *account.Account {
	acct := &account.Account{
		AccountName:    accountName,
		SteamID:        account.SteamID(s.SteamID),
		SharedSecret:   account.Secret(enr.SharedSecret),
		IdentitySecret: account.Secret(enr.IdentitySecret),
		DeviceID:       s.DeviceID,
		RevocationCode: enr.RevocationCode,
		SerialNumber:   enr.SerialNumber,
		TokenGID:       enr.TokenGID,
		URI:            enr.URI,
	}
	acct.SetTokens(s.AccessToken, refreshToken, time.Now())
	return acct
}

// CodePromptFunc asks the user for the SMS/email activation code. The phone
// hint and confirm type give the prompt its context. An empty code means
// the user cancelled.
type CodePromptFunc func(ctx context.Context, phoneHint string, confirmType int) (string, error)

// LinkAccount runs the whole enrollment flow: credential login (an account
// being enrolled has no authenticator yet, so no Guard code is expected),
// AddAuthenticator, activation-code prompt, multi-round Finalize and the
// QueryStatus double check.
func LinkAccount(ctx context.Context, t *Transport, accountName, password string, prompt CodePromptFunc) (*account.Account, error) {
	login := NewLoginSession(t)
	result, err := login.Login(ctx, accountName, password, nil)
	if err != nil {
		return nil, err
	}
	if result.Needs2FA {
		// An account being enrolled has no device code to give. Poll
		// anyway: accounts without an authenticator complete on their
		// own, while a timeout means 2FA already exists on a device.
		result, err = login.PollTokens(ctx, result.ClientID, result.RequestID, result.SteamID)
		if errors.Is(err, ErrLoginTimeout) {
			return nil, ErrAlreadyEnrolled
		}
		if err != nil {
			return nil, err
		}
	}

	session := NewEnrollmentSession(t, result.AccessToken, result.SteamID, guard.NewDeviceID())
	enr, err := session.AddAuthenticator(ctx)
	if err != nil {
		return nil, err
	}

	code, err := prompt(ctx, enr.PhoneNumberHint, enr.ConfirmType)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, context.Canceled
	}

	if err := session.Finalize(ctx, enr, code); err != nil {
		return nil, err
	}

	active, err := session.QueryStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrEnrollNotActivated
	}
	return session.BuildAccount(enr, accountName, result.RefreshToken), nil
}
