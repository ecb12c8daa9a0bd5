package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
)

// VerifyToken checks the bearer token against the token-verify endpoint.
func (c *Client) VerifyToken(ctx context.Context) error {
	return c.call(ctx, "verify-token", http.MethodGet, "/user/tokens/verify", nil, nil, nil, c.options.attempts)
}

// ListAccounts returns every account reachable by the token.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := c.list(ctx, "list-accounts", "/accounts", nil, func(raw json.RawMessage) (int, error) {
		var page []Account
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		accounts = append(accounts, page...)
		return len(page), nil
	})
	return accounts, err
}

// ListZones returns every zone reachable by the token.
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	err := c.list(ctx, "list-zones", "/zones", nil, func(raw json.RawMessage) (int, error) {
		var page []Zone
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		zones = append(zones, page...)
		return len(page), nil
	})
	return zones, err
}
