package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// ListDNSRecords returns the zone's records, optionally filtered by name.
func (c *Client) ListDNSRecords(ctx context.Context, name string) ([]DNSRecord, error) {
	const op = "list-dns-records"
	if err := c.requireZone(op); err != nil {
		return nil, err
	}
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	var records []DNSRecord
	err := c.list(ctx, op, "/zones/"+c.zoneID+"/dns_records", query, func(raw json.RawMessage) (int, error) {
		var page []DNSRecord
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		records = append(records, page...)
		return len(page), nil
	})
	return records, err
}

// CreateDNSRecord adds a record to the zone.
func (c *Client) CreateDNSRecord(ctx context.Context, params *DNSRecordParams) (*DNSRecord, error) {
	const op = "create-dns-record"
	if err := c.requireZone(op); err != nil {
		return nil, err
	}
	var record DNSRecord
	err := c.call(ctx, op, http.MethodPost, "/zones/"+c.zoneID+"/dns_records", nil, params, &record, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateDNSRecord replaces a record by id.
func (c *Client) UpdateDNSRecord(ctx context.Context, recordID string, params *DNSRecordParams) (*DNSRecord, error) {
	const op = "update-dns-record"
	if err := c.requireZone(op); err != nil {
		return nil, err
	}
	if err := requireID(op, "record id", recordID); err != nil {
		return nil, err
	}
	var record DNSRecord
	err := c.call(ctx, op, http.MethodPut, "/zones/"+c.zoneID+"/dns_records/"+recordID, nil, params, &record, c.options.attempts)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteDNSRecord removes a record by id. Single attempt, same as every
// destructive operation.
func (c *Client) DeleteDNSRecord(ctx context.Context, recordID string) error {
	const op = "delete-dns-record"
	if err := c.requireZone(op); err != nil {
		return err
	}
	if err := requireID(op, "record id", recordID); err != nil {
		return err
	}
	return c.call(ctx, op, http.MethodDelete, "/zones/"+c.zoneID+"/dns_records/"+recordID, nil, nil, nil, 1)
}
