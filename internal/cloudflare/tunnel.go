package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
)

// TunnelDomain is the DNS suffix for tunnel-addressed CNAME targets.
const TunnelDomain = "cfargotunnel.com"

// TunnelTarget returns the CNAME content addressing a tunnel.
func TunnelTarget(tunnelID string) string {
	return tunnelID + "." + TunnelDomain
}

// ListTunnels returns the account's tunnels.
func (c *Client) ListTunnels(ctx context.Context) ([]Tunnel, error) {
	const op = "list-tunnels"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	var tunnels []Tunnel
	err := c.list(ctx, op, "/accounts/"+c.accountID+"/cfd_tunnel", nil, func(raw json.RawMessage) (int, error) {
		var page []Tunnel
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		tunnels = append(tunnels, page...)
		return len(page), nil
	})
	return tunnels, err
}

// GetTunnel returns one tunnel by id.
func (c *Client) GetTunnel(ctx context.Context, tunnelID string) (*Tunnel, error) {
	const op = "get-tunnel"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	if err := requireID(op, "tunnel id", tunnelID); err != nil {
		return nil, err
	}
	var tunnel Tunnel
	err := c.call(ctx, op, http.MethodGet, "/accounts/"+c.accountID+"/cfd_tunnel/"+tunnelID, nil, nil, &tunnel, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &tunnel, nil
}

// CreateTunnel registers a new tunnel under the account.
func (c *Client) CreateTunnel(ctx context.Context, name, secret string) (*Tunnel, error) {
	const op = "create-tunnel"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	body := map[string]string{
		"name":          name,
		"tunnel_secret": secret,
	}
	var tunnel Tunnel
	err := c.call(ctx, op, http.MethodPost, "/accounts/"+c.accountID+"/cfd_tunnel", nil, body, &tunnel, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &tunnel, nil
}

// DeleteTunnel removes a tunnel. Single attempt: a replayed delete is
// ambiguous once the first response is lost.
func (c *Client) DeleteTunnel(ctx context.Context, tunnelID string) error {
	const op = "delete-tunnel"
	if err := c.requireAccount(op); err != nil {
		return err
	}
	if err := requireID(op, "tunnel id", tunnelID); err != nil {
		return err
	}
	return c.call(ctx, op, http.MethodDelete, "/accounts/"+c.accountID+"/cfd_tunnel/"+tunnelID, nil, nil, nil, 1)
}

// GetTunnelConfiguration fetches the remotely-stored tunnel config.
func (c *Client) GetTunnelConfiguration(ctx context.Context, tunnelID string) (*TunnelConfiguration, error) {
	const op = "get-tunnel-configuration"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	if err := requireID(op, "tunnel id", tunnelID); err != nil {
		return nil, err
	}
	var config TunnelConfiguration
	err := c.call(ctx, op, http.MethodGet, "/accounts/"+c.accountID+"/cfd_tunnel/"+tunnelID+"/configurations", nil, nil, &config, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// PutTunnelConfiguration replaces the remotely-stored tunnel config.
func (c *Client) PutTunnelConfiguration(ctx context.Context, tunnelID string, config *TunnelConfiguration) error {
	const op = "put-tunnel-configuration"
	if err := c.requireAccount(op); err != nil {
		return err
	}
	if err := requireID(op, "tunnel id", tunnelID); err != nil {
		return err
	}
	return c.call(ctx, op, http.MethodPut, "/accounts/"+c.accountID+"/cfd_tunnel/"+tunnelID+"/configurations", nil, config, nil, c.options.attempts)
}

// GetTunnelToken fetches the token used to run the agent for a tunnel.
func (c *Client) GetTunnelToken(ctx context.Context, tunnelID string) (string, error) {
	const op = "get-tunnel-token"
	if err := c.requireAccount(op); err != nil {
		return "", err
	}
	if err := requireID(op, "tunnel id", tunnelID); err != nil {
		return "", err
	}
	var token string
	err := c.call(ctx, op, http.MethodGet, "/accounts/"+c.accountID+"/cfd_tunnel/"+tunnelID+"/token", nil, nil, &token, c.options.attempts)
	return token, err
}
