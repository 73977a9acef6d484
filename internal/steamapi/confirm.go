package steamapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"steamguard/internal/account"
	"steamguard/internal/guard"
)

// Confirmation type IDs Steam assigns to pending actions.
const (
	ConfirmationTypeGeneric         = 1
	ConfirmationTypeTrade           = 2
	ConfirmationTypeMarketListing   = 3
	ConfirmationTypeAccountRecovery = 5
)

// Confirmation is one pending trade/market action. Ephemeral: re-fetched
// every time the list is opened, never persisted. Key is the nonce required
// to act on it.
type Confirmation struct {
	ID          string
	Key         string
	TypeID      int
	CreatorID   string
	Title       string
	Description string
}

// TypeName renders the type id for display.
func (c Confirmation) TypeName() string {
	switch c.TypeID {
	case ConfirmationTypeGeneric:
		return "Generic"
	case ConfirmationTypeTrade:
		return "Trade"
	case ConfirmationTypeMarketListing:
		return "Market Listing"
	case ConfirmationTypeAccountRecovery:
		return "Account Recovery"
	default:
		return "Unknown"
	}
}

// SaveFunc persists an account after its session tokens change.
type SaveFunc func(*account.Account) error

// ConfirmationEngine fetches pending confirmations and signs accept/deny
// operations. On a needauth response it refreshes the access token and
// retries exactly once; a second needauth is a hard session failure.
//
// The engine and the login refresh path both write the account's session;
// callers must serialize operations per account.
type ConfirmationEngine struct {
	Transport *Transport
	Login     *LoginSession
	Save      SaveFunc
	Logger    *log.Logger

	// Now is the clock for confirmation signatures, replaceable in tests.
	Now func() time.Time
}

// NewConfirmationEngine wires the engine to a transport, a login session
// for token refreshes, and the persistence callback invoked after every
// refresh.
func NewConfirmationEngine(t *Transport, login *LoginSession, save SaveFunc) *ConfirmationEngine {
	return &ConfirmationEngine{
		Transport: t,
		Login:     login,
		Save:      save,
		Now:       time.Now,
	}
}

func (e *ConfirmationEngine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// List fetches the account's pending confirmations. An expired access token
// with a live refresh token is refreshed proactively before the request,
// saving a needauth round trip.
func (e *ConfirmationEngine) List(ctx context.Context, acct *account.Account) ([]Confirmation, error) {
	if acct.SteamID == 0 {
		return nil, fmt.Errorf("account %s has no steamid", acct.AccountName)
	}
	if len(acct.IdentitySecret) == 0 {
		return nil, fmt.Errorf("account %s has no identity_secret", acct.AccountName)
	}

	now := e.Now()
	if !acct.Session.AccessTokenValid(now) && acct.Session.RefreshTokenValid(now) {
		if err := e.refreshAndSave(ctx, acct); err != nil {
			return nil, err
		}
	}

	list, needauth, err := e.fetchList(ctx, acct)
	if err != nil {
		return nil, err
	}
	if needauth {
		if err := e.refreshAndSave(ctx, acct); err != nil {
			return nil, err
		}
		list, needauth, err = e.fetchList(ctx, acct)
		if err != nil {
			return nil, err
		}
		if needauth {
			return nil, ErrSessionExpired
		}
	}
	return list, nil
}

// Respond accepts or denies one confirmation.
func (e *ConfirmationEngine) Respond(ctx context.Context, acct *account.Account, conf Confirmation, accept bool) error {
	op := operationTag(accept)
	do := func() (bool, error) {
		params := e.signedParams(acct, op)
		params.Set("op", op)
		params.Set("cid", conf.ID)
		params.Set("ck", conf.Key)
		body, err := e.Transport.CommunityGet(ctx, "/mobileconf/ajaxop", params, sessionCookies(acct))
		if err != nil {
			return false, err
		}
		return parseOpResult(body)
	}
	return e.withRefreshRetry(ctx, acct, do)
}

// RespondAll batches several confirmations into one multiajaxop POST. The
// server answers with a single all-or-nothing success flag.
func (e *ConfirmationEngine) RespondAll(ctx context.Context, acct *account.Account, confs []Confirmation, accept bool) error {
	if len(confs) == 0 {
		return nil
	}
	op := operationTag(accept)
	do := func() (bool, error) {
		form := e.signedParams(acct, op)
		form.Set("op", op)
		form.Set("m", "android")
		for i, conf := range confs {
			form.Set(fmt.Sprintf("cid[%d]", i), conf.ID)
			form.Set(fmt.Sprintf("ck[%d]", i), conf.Key)
		}
		body, err := e.Transport.CommunityPostForm(ctx, "/mobileconf/multiajaxop", form, sessionCookies(acct))
		if err != nil {
			return false, err
		}
		return parseOpResult(body)
	}
	return e.withRefreshRetry(ctx, acct, do)
}

// withRefreshRetry runs a confirmation operation with the single
// refresh-then-retry policy shared by every mobileconf call.
func (e *ConfirmationEngine) withRefreshRetry(ctx context.Context, acct *account.Account, do func() (bool, error)) error {
	needauth, err := do()
	if err != nil {
		return err
	}
	if needauth {
		if err := e.refreshAndSave(ctx, acct); err != nil {
			return err
		}
		needauth, err = do()
		if err != nil {
			return err
		}
		if needauth {
			return ErrSessionExpired
		}
	}
	return nil
}

func operationTag(accept bool) string {
	if accept {
		return "allow"
	}
	return "cancel"
}

// signedParams builds the query base every mobileconf call shares: device
// id, steamid, the tag-specific confirmation hash and its timestamp.
func (e *ConfirmationEngine) signedParams(acct *account.Account, tag string) url.Values {
	now := e.Now().Unix()
	params := url.Values{}
	params.Set("p", acct.DeviceID)
	params.Set("a", acct.SteamID.String())
	params.Set("k", guard.ConfirmationHash(acct.IdentitySecret, now, tag))
	params.Set("t", fmt.Sprintf("%d", now))
	params.Set("m", "react")
	params.Set("tag", tag)
	return params
}

func sessionCookies(acct *account.Account) []*http.Cookie {
	steamID := acct.SteamID.String()
	return []*http.Cookie{
		{Name: "dob", Value: ""},
		{Name: "steamid", Value: steamID},
		{Name: "steamLoginSecure", Value: steamID + "||" + acct.Session.AccessToken},
	}
}

func (e *ConfirmationEngine) refreshAndSave(ctx context.Context, acct *account.Account) error {
	if acct.Session.RefreshToken == "" {
		return ErrSessionExpired
	}
	token, err := e.Login.RefreshAccessToken(ctx, acct.Session.RefreshToken, uint64(acct.SteamID))
	if err != nil {
		return err
	}
	acct.SetTokens(token, "", e.Now())
	e.logf("refreshed access token for %s", acct.AccountName)
	if e.Save != nil {
		if err := e.Save(acct); err != nil {
			return fmt.Errorf("persist refreshed tokens: %w", err)
		}
	}
	return nil
}

// confListBody is the JSON shape of /mobileconf/getlist.
type confListBody struct {
	Success  bool            `json:"success"`
	NeedAuth bool            `json:"needauth"`
	Conf     []confListEntry `json:"conf"`
}

type confListEntry struct {
	ID        json.Number `json:"id"`
	Nonce     json.Number `json:"nonce"`
	Type      int         `json:"type"`
	CreatorID json.Number `json:"creator_id"`
	Headline  string      `json:"headline"`
	Summary   []string    `json:"summary"`
}

// fetchList performs one getlist call. The JSON shape is preferred; bodies
// that fail to decode as JSON fall back to HTML scraping.
func (e *ConfirmationEngine) fetchList(ctx context.Context, acct *account.Account) ([]Confirmation, bool, error) {
	body, err := e.Transport.CommunityGet(ctx, "/mobileconf/getlist", e.signedParams(acct, "conf"), sessionCookies(acct))
	if err != nil {
		return nil, false, err
	}

	var parsed confListBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.NeedAuth {
			return nil, true, nil
		}
		if !parsed.Success {
			return nil, false, &ProtocolError{Message: "confirmation list request rejected"}
		}
		list := make([]Confirmation, 0, len(parsed.Conf))
		for _, entry := range parsed.Conf {
			list = append(list, Confirmation{
				ID:          entry.ID.String(),
				Key:         entry.Nonce.String(),
				TypeID:      entry.Type,
				CreatorID:   entry.CreatorID.String(),
				Title:       entry.Headline,
				Description: strings.Join(entry.Summary, " | "),
			})
		}
		e.logf("fetched %d confirmation(s) for %s", len(list), acct.AccountName)
		return list, false, nil
	}

	// Legacy HTML page. Best effort only: unexpected markup yields an
	// empty list, never an error or partial entries.
	return parseConfirmationHTML(body), false, nil
}

// parseOpResult decodes an ajaxop/multiajaxop response, reporting whether
// the server demanded re-authentication.
func parseOpResult(body []byte) (needauth bool, err error) {
	var resp struct {
		Success  bool `json:"success"`
		NeedAuth bool `json:"needauth"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, &ProtocolError{Message: "unparseable confirmation response"}
	}
	if resp.NeedAuth {
		return true, nil
	}
	if !resp.Success {
		return false, &ProtocolError{Message: "confirmation operation rejected"}
	}
	return false, nil
}

// parseConfirmationHTML scrapes data-confid entries out of the legacy
// confirmation page.
func parseConfirmationHTML(body []byte) []Confirmation {
	if bytes.Contains(body, []byte("There are no confirmations waiting")) ||
		bytes.Contains(body, []byte("conf_empty")) {
		return nil
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var list []Confirmation
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if conf, ok := confirmationFromNode(n); ok {
				list = append(list, conf)
				return // attributes of nested nodes belong to this entry
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return list
}

func confirmationFromNode(n *html.Node) (Confirmation, bool) {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	id, ok := attrs["data-confid"]
	if !ok {
		return Confirmation{}, false
	}
	key := attrs["data-key"]
	if key == "" {
		// An entry that cannot be acted on is worse than no entry.
		return Confirmation{}, false
	}

	conf := Confirmation{
		ID:        id,
		Key:       key,
		CreatorID: attrs["data-creator"],
		Title:     "Trade Offer",
	}
	fmt.Sscanf(attrs["data-type"], "%d", &conf.TypeID)

	// Title from the first img alt, description from the last meaningful
	// div text.
	var scan func(*html.Node)
	var descs []string
	var alt string
	scan = func(c *html.Node) {
		if c.Type == html.ElementNode {
			if c.Data == "img" && alt == "" {
				for _, a := range c.Attr {
					if a.Key == "alt" && a.Val != "" {
						alt = a.Val
					}
				}
			}
			if c.Data == "div" {
				if text := strings.TrimSpace(nodeText(c)); len(text) > 3 {
					descs = append(descs, text)
				}
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			scan(cc)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		scan(c)
	}
	if alt != "" {
		conf.Title = alt
	}
	if len(descs) > 0 {
		conf.Description = descs[len(descs)-1]
	}
	return conf, true
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
