package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
)

// ListAccessApps returns the account's access applications.
func (c *Client) ListAccessApps(ctx context.Context) ([]AccessApp, error) {
	const op = "list-access-apps"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	var apps []AccessApp
	err := c.list(ctx, op, "/accounts/"+c.accountID+"/access/apps", nil, func(raw json.RawMessage) (int, error) {
		var page []AccessApp
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		apps = append(apps, page...)
		return len(page), nil
	})
	return apps, err
}

// CreateAccessApp creates a self-hosted access application.
func (c *Client) CreateAccessApp(ctx context.Context, app *AccessApp) (*AccessApp, error) {
	const op = "create-access-app"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	var created AccessApp
	err := c.call(ctx, op, http.MethodPost, "/accounts/"+c.accountID+"/access/apps", nil, app, &created, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteAccessApp removes an access application. Single attempt.
func (c *Client) DeleteAccessApp(ctx context.Context, appID string) error {
	const op = "delete-access-app"
	if err := c.requireAccount(op); err != nil {
		return err
	}
	if err := requireID(op, "app id", appID); err != nil {
		return err
	}
	return c.call(ctx, op, http.MethodDelete, "/accounts/"+c.accountID+"/access/apps/"+appID, nil, nil, nil, 1)
}

// ListAccessPolicies returns the policies attached to an application.
func (c *Client) ListAccessPolicies(ctx context.Context, appID string) ([]AccessPolicy, error) {
	const op = "list-access-policies"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	if err := requireID(op, "app id", appID); err != nil {
		return nil, err
	}
	var policies []AccessPolicy
	err := c.list(ctx, op, "/accounts/"+c.accountID+"/access/apps/"+appID+"/policies", nil, func(raw json.RawMessage) (int, error) {
		var page []AccessPolicy
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		policies = append(policies, page...)
		return len(page), nil
	})
	return policies, err
}

// CreateAccessPolicy attaches a policy to an application.
func (c *Client) CreateAccessPolicy(ctx context.Context, appID string, policy *AccessPolicy) (*AccessPolicy, error) {
	const op = "create-access-policy"
	if err := c.requireAccount(op); err != nil {
		return nil, err
	}
	if err := requireID(op, "app id", appID); err != nil {
		return nil, err
	}
	var created AccessPolicy
	err := c.call(ctx, op, http.MethodPost, "/accounts/"+c.accountID+"/access/apps/"+appID+"/policies", nil, policy, &created, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &created, nil
}
