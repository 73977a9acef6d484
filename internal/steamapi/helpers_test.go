package steamapi

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"steamguard/internal/wire"
)

// rawProtoPayload extracts the input_protobuf_encoded payload. GET requests
// carry URL-safe base64 in the query string, POSTs standard base64 in the
// form body.
func rawProtoPayload(t *testing.T, r *http.Request) []byte {
	t.Helper()
	if r.Method == http.MethodGet {
		raw, err := base64.URLEncoding.DecodeString(r.URL.Query().Get("input_protobuf_encoded"))
		require.NoError(t, err)
		return raw
	}
	require.NoError(t, r.ParseForm())
	raw, err := base64.StdEncoding.DecodeString(r.PostForm.Get("input_protobuf_encoded"))
	require.NoError(t, err)
	return raw
}

func decodeProtoRequest(t *testing.T, r *http.Request) *wire.Message {
	t.Helper()
	return wire.Parse(rawProtoPayload(t, r))
}

func writeProto(w http.ResponseWriter, msg *wire.Writer) {
	w.Header().Set("x-eresult", "1")
	w.Write(msg.Marshal())
}

// newTestTransport points both API and community hosts at the mock server.
func newTestTransport(t *testing.T, handler http.Handler) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := NewTransport()
	tr.APIBase = srv.URL
	tr.CommunityBase = srv.URL
	return tr
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}
