package steamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"steamguard/internal/account"
)

// WebAPIClient reads the public Steam Web API (profile summaries, ban
// status, owned-game counts). Purely informational lookups: nothing in the
// authenticator protocol depends on this data.
type WebAPIClient struct {
	Client  *http.Client
	APIBase string
	APIKey  string
	Logger  *log.Logger
}

// NewWebAPIClient returns a client against the production API host.
func NewWebAPIClient(apiKey string) *WebAPIClient {
	return &WebAPIClient{
		Client:  http.DefaultClient,
		APIBase: DefaultAPIBase,
		APIKey:  apiKey,
	}
}

// PlayerSummary is the subset of GetPlayerSummaries we surface.
type PlayerSummary struct {
	SteamID     string `json:"steamid"`
	PersonaName string `json:"personaname"`
	AvatarFull  string `json:"avatarfull"`
}

// PlayerBans is the subset of GetPlayerBans we surface.
type PlayerBans struct {
	SteamID         string `json:"SteamId"`
	VACBanned       bool   `json:"VACBanned"`
	CommunityBanned bool   `json:"CommunityBanned"`
}

func (c *WebAPIClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", apiUserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode web api response: %w", err)
	}
	return nil
}

// GetPlayerSummary fetches the public profile for one steamid.
func (c *WebAPIClient) GetPlayerSummary(ctx context.Context, steamID string) (*PlayerSummary, error) {
	var body struct {
		Response struct {
			Players []PlayerSummary `json:"players"`
		} `json:"response"`
	}
	params := url.Values{"steamids": {steamID}}
	if err := c.get(ctx, "/ISteamUser/GetPlayerSummaries/v2", params, &body); err != nil {
		return nil, err
	}
	if len(body.Response.Players) == 0 {
		return nil, fmt.Errorf("no profile for steamid %s", steamID)
	}
	return &body.Response.Players[0], nil
}

// GetPlayerBans fetches VAC/community ban status for one steamid.
func (c *WebAPIClient) GetPlayerBans(ctx context.Context, steamID string) (*PlayerBans, error) {
	var body struct {
		Players []PlayerBans `json:"players"`
	}
	params := url.Values{"steamids": {steamID}}
	if err := c.get(ctx, "/ISteamUser/GetPlayerBans/v1", params, &body); err != nil {
		return nil, err
	}
	if len(body.Players) == 0 {
		return nil, fmt.Errorf("no ban record for steamid %s", steamID)
	}
	return &body.Players[0], nil
}

// GetOwnedGameCount returns how many games the account owns. Private
// profiles report zero; that is indistinguishable from an empty library and
// treated as such.
func (c *WebAPIClient) GetOwnedGameCount(ctx context.Context, steamID string) (int, error) {
	var body struct {
		Response struct {
			GameCount int `json:"game_count"`
		} `json:"response"`
	}
	params := url.Values{
		"steamid":                   {steamID},
		"include_played_free_games": {"1"},
	}
	if err := c.get(ctx, "/IPlayerService/GetOwnedGames/v1", params, &body); err != nil {
		return 0, err
	}
	return body.Response.GameCount, nil
}

// Enrich fills the account's profile fields from the Web API. Lookups fail
// independently; the first error is returned but fields fetched before it
// are kept.
func (c *WebAPIClient) Enrich(ctx context.Context, acct *account.Account) error {
	steamID := acct.SteamID.String()

	summary, err := c.GetPlayerSummary(ctx, steamID)
	if err != nil {
		return err
	}
	acct.DisplayName = summary.PersonaName
	acct.AvatarURL = summary.AvatarFull

	bans, err := c.GetPlayerBans(ctx, steamID)
	if err != nil {
		return err
	}
	acct.VACBanned = bans.VACBanned
	acct.CommunityBanned = bans.CommunityBanned

	count, err := c.GetOwnedGameCount(ctx, steamID)
	if err != nil {
		return err
	}
	acct.GameCount = count

	if c.Logger != nil {
		c.Logger.Printf("enriched profile for %s (%s)", acct.AccountName, summary.PersonaName)
	}
	return nil
}
