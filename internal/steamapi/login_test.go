package steamapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamguard/internal/wire"
)

const (
	testSteamID  = uint64(76561198034202275)
	testClientID = uint64(9123456789012345)
)

type loginServerState struct {
	rsaKey      *rsa.PrivateKey
	requestID   []byte
	tokensAfter int
	pollCalls   int
	guardCodes  []string
}

// fixed64Field is the wire form of a fixed64 steamid in the given field.
// Asserting on raw bytes is the only way to catch the field being encoded
// as a varint by mistake.
func fixed64Field(field int, v uint64) []byte {
	b := make([]byte, 9)
	b[0] = byte(field<<3 | 1)
	binary.LittleEndian.PutUint64(b[1:], v)
	return b
}

func newLoginServer(t *testing.T) (*mux.Router, *loginServerState) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	state := &loginServerState{
		rsaKey:      key,
		requestID:   []byte{0xde, 0xad, 0xbe, 0xef},
		tokensAfter: 1,
	}

	r := mux.NewRouter()
	r.HandleFunc("/IAuthenticationService/GetPasswordRSAPublicKey/v1", func(w http.ResponseWriter, req *http.Request) {
		msg := decodeProtoRequest(t, req)
		assert.Equal(t, "hydrogen", msg.String(1))
		resp := wire.NewWriter()
		resp.String(1, state.rsaKey.N.Text(16))
		resp.String(2, "010001")
		resp.Uint64(3, 77777)
		writeProto(w, resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/IAuthenticationService/BeginAuthSessionViaCredentials/v1", func(w http.ResponseWriter, req *http.Request) {
		msg := decodeProtoRequest(t, req)
		assert.Equal(t, "hydrogen", msg.String(2))
		assert.EqualValues(t, 77777, msg.Uint64(4))
		assert.Equal(t, "Mobile", msg.String(8))
		enc, err := base64.StdEncoding.DecodeString(msg.String(3))
		require.NoError(t, err)
		plain, err := rsa.DecryptPKCS1v15(nil, state.rsaKey, enc)
		require.NoError(t, err)
		assert.Equal(t, "hunter2", string(plain))

		resp := wire.NewWriter()
		resp.Uint64(1, testClientID)
		resp.Bytes(2, state.requestID)
		resp.Uint64(3, 1)
		resp.Uint64(5, testSteamID)
		writeProto(w, resp)
	}).Methods(http.MethodPost)

	r.HandleFunc("/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1", func(w http.ResponseWriter, req *http.Request) {
		raw := rawProtoPayload(t, req)
		assert.True(t, bytes.Contains(raw, fixed64Field(2, testSteamID)), "steamid must be fixed64")
		msg := wire.Parse(raw)
		assert.Equal(t, testClientID, msg.Uint64(1))
		state.guardCodes = append(state.guardCodes, msg.String(3))
		writeProto(w, wire.NewWriter())
	}).Methods(http.MethodPost)

	r.HandleFunc("/IAuthenticationService/PollAuthSessionStatus/v1", func(w http.ResponseWriter, req *http.Request) {
		state.pollCalls++
		msg := decodeProtoRequest(t, req)
		assert.Equal(t, testClientID, msg.Uint64(1))
		assert.Equal(t, state.requestID, msg.Bytes(2))

		resp := wire.NewWriter()
		if state.pollCalls >= state.tokensAfter {
			resp.String(3, "refresh-jwt")
			resp.String(4, "access-jwt")
			resp.String(6, "hydrogen")
		}
		writeProto(w, resp)
	}).Methods(http.MethodPost)

	return r, state
}

func newTestLoginSession(t *testing.T, handler http.Handler) *LoginSession {
	t.Helper()
	s := NewLoginSession(newTestTransport(t, handler))
	s.PollInterval = time.Millisecond
	return s
}

func TestLoginWithGuardCode(t *testing.T) {
	r, state := newLoginServer(t)
	state.tokensAfter = 2
	session := newTestLoginSession(t, r)

	codeFn := func(ctx context.Context) (string, error) { return "RYH4D", nil }
	result, err := session.Login(context.Background(), "hydrogen", "hunter2", codeFn)
	require.NoError(t, err)

	assert.False(t, result.Needs2FA)
	assert.Equal(t, "access-jwt", result.AccessToken)
	assert.Equal(t, "refresh-jwt", result.RefreshToken)
	assert.Equal(t, "hydrogen", result.AccountName)
	assert.Equal(t, testSteamID, result.SteamID)
	assert.Equal(t, []string{"RYH4D"}, state.guardCodes)
	assert.Equal(t, 2, state.pollCalls, "empty poll response must be treated as still waiting")
}

func TestLoginNeeds2FAResume(t *testing.T) {
	r, state := newLoginServer(t)
	session := newTestLoginSession(t, r)

	result, err := session.Login(context.Background(), "hydrogen", "hunter2", nil)
	require.NoError(t, err)
	require.True(t, result.Needs2FA)
	assert.Equal(t, testClientID, result.ClientID)
	assert.Equal(t, state.requestID, result.RequestID)
	assert.Equal(t, testSteamID, result.SteamID)
	assert.Zero(t, state.pollCalls)

	resumed, err := session.Complete2FA(context.Background(), result.ClientID, result.RequestID, result.SteamID, "DR2DK")
	require.NoError(t, err)
	assert.Equal(t, "access-jwt", resumed.AccessToken)
	assert.Equal(t, []string{"DR2DK"}, state.guardCodes)
}

func TestLoginPollTimeout(t *testing.T) {
	r, state := newLoginServer(t)
	state.tokensAfter = 1000
	session := newTestLoginSession(t, r)
	session.MaxPollAttempts = 3

	codeFn := func(ctx context.Context) (string, error) { return "RYH4D", nil }
	_, err := session.Login(context.Background(), "hydrogen", "hunter2", codeFn)
	require.ErrorIs(t, err, ErrLoginTimeout)
	assert.Equal(t, 3, state.pollCalls)
}

func TestRefreshAccessToken(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/IAuthenticationService/GenerateAccessTokenForApp/v1", func(w http.ResponseWriter, req *http.Request) {
		raw := rawProtoPayload(t, req)
		assert.True(t, bytes.Contains(raw, fixed64Field(2, testSteamID)))
		msg := wire.Parse(raw)
		assert.Equal(t, "refresh-jwt", msg.String(1))
		resp := wire.NewWriter()
		resp.String(1, "new-access-jwt")
		writeProto(w, resp)
	}).Methods(http.MethodPost)
	session := newTestLoginSession(t, r)

	token, err := session.RefreshAccessToken(context.Background(), "refresh-jwt", testSteamID)
	require.NoError(t, err)
	assert.Equal(t, "new-access-jwt", token)
}

func TestRefreshAccessTokenEmptyResponse(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/IAuthenticationService/GenerateAccessTokenForApp/v1", func(w http.ResponseWriter, req *http.Request) {
		writeProto(w, wire.NewWriter())
	}).Methods(http.MethodPost)
	session := newTestLoginSession(t, r)

	_, err := session.RefreshAccessToken(context.Background(), "refresh-jwt", testSteamID)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}
