package cloudflare

import "encoding/json"

// envelope is the v4 API response wrapper.
type envelope struct {
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result"`
	Errors     []APIError      `json:"errors"`
	ResultInfo *resultInfo     `json:"result_info"`
}

type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// Account is an account reachable by the token.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Zone is a DNS zone reachable by the token.
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Tunnel is a remotely-owned tunnel descriptor. The local copy is an
// observed cache, never authoritative.
type Tunnel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// DNSRecord is a record in a zone.
type DNSRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl,omitempty"`
}

// DNSRecordParams is the create/update payload for a record.
type DNSRecordParams struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl,omitempty"`
}

// IngressRule is one hostname binding inside a remotely-managed tunnel
// configuration.
type IngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service"`
	Path     string `json:"path,omitempty"`
}

// TunnelConfiguration is the remotely-stored tunnel config.
type TunnelConfiguration struct {
	TunnelID string             `json:"tunnel_id,omitempty"`
	Version  int                `json:"version,omitempty"`
	Config   TunnelConfigDetail `json:"config"`
}

// TunnelConfigDetail carries the ingress rule list.
type TunnelConfigDetail struct {
	Ingress []IngressRule `json:"ingress"`
}

// AccessApp is a Zero Trust access application.
type AccessApp struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	Type            string `json:"type,omitempty"`
	SessionDuration string `json:"session_duration,omitempty"`
}

// AccessPolicy is a policy attached to an access application.
type AccessPolicy struct {
	ID       string       `json:"id,omitempty"`
	Name     string       `json:"name"`
	Decision string       `json:"decision"`
	Include  []PolicyRule `json:"include"`
	Exclude  []PolicyRule `json:"exclude,omitempty"`
	Require  []PolicyRule `json:"require,omitempty"`
}

// PolicyRule is one matcher within a policy.
type PolicyRule struct {
	Email       *PolicyEmail       `json:"email,omitempty"`
	EmailDomain *PolicyEmailDomain `json:"email_domain,omitempty"`
	Everyone    *struct{}          `json:"everyone,omitempty"`
}

// PolicyEmail matches a single email address.
type PolicyEmail struct {
	Email string `json:"email"`
}

// PolicyEmailDomain matches every address in a domain.
type PolicyEmailDomain struct {
	Domain string `json:"domain"`
}
