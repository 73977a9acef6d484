// Package steamapi speaks Steam's protobuf-over-HTTP authentication API and
// the steamcommunity mobile confirmation endpoints.
package steamapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIBase hosts the protobuf services (IAuthenticationService,
	// ITwoFactorService, public Web API).
	DefaultAPIBase = "https://api.steampowered.com"

	// DefaultCommunityBase hosts the mobile confirmation endpoints.
	DefaultCommunityBase = "https://steamcommunity.com"

	apiUserAgent    = "steamguard-cli"
	mobileUserAgent = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5) AppleWebKit/537.36"
)

// Transport wraps one outbound Steam API call: base64-encodes the protobuf
// payload, attaches it as input_protobuf_encoded, and surfaces Steam's
// out-of-band x-eresult header as a typed failure.
type Transport struct {
	Client        *http.Client
	APIBase       string
	CommunityBase string
	Logger        *log.Logger
}

// NewTransport returns a transport with the production endpoints and a
// 30-second client timeout.
func NewTransport() *Transport {
	return &Transport{
		Client:        &http.Client{Timeout: 30 * time.Second},
		APIBase:       DefaultAPIBase,
		CommunityBase: DefaultCommunityBase,
	}
}

func (t *Transport) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
	}
}

// Call posts (or gets) a protobuf payload to
// {APIBase}/{service}/{method}/v{version} and returns the raw response body
// for the caller's wire reader.
//
// POST form fields use the standard base64 alphabet; GET query parameters
// use the URL-safe alphabet. An x-eresult header other than "1" is a
// ProtocolError even though the HTTP status was 200.
func (t *Transport) Call(ctx context.Context, service, method string, version int, payload []byte, accessToken string, get bool) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/v%d", t.APIBase, service, method, version)

	var req *http.Request
	var err error
	if get {
		params := url.Values{}
		params.Set("input_protobuf_encoded", base64.URLEncoding.EncodeToString(payload))
		if accessToken != "" {
			params.Set("access_token", accessToken)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	} else {
		form := url.Values{}
		form.Set("input_protobuf_encoded", base64.StdEncoding.EncodeToString(payload))
		if accessToken != "" {
			form.Set("access_token", accessToken)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", apiUserAgent)

	t.logf("steam api %s/%s", service, method)
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Status: resp.StatusCode}
	}
	if eresult := resp.Header.Get("x-eresult"); eresult != "" && eresult != "1" {
		code, _ := strconv.Atoi(eresult)
		return nil, &ProtocolError{EResult: code, Message: resp.Header.Get("x-error_message")}
	}
	return io.ReadAll(resp.Body)
}

// CommunityGet issues a signed confirmation GET against the community host.
func (t *Transport) CommunityGet(ctx context.Context, path string, params url.Values, cookies []*http.Cookie) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.CommunityBase+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return t.communityDo(req, cookies)
}

// CommunityPostForm issues a form POST against the community host.
func (t *Transport) CommunityPostForm(ctx context.Context, path string, form url.Values, cookies []*http.Cookie) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.CommunityBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.communityDo(req, cookies)
}

func (t *Transport) communityDo(req *http.Request, cookies []*http.Cookie) ([]byte, error) {
	req.Header.Set("User-Agent", mobileUserAgent)
	req.Header.Set("Referer", t.CommunityBase+"/mobileconf/conf")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
