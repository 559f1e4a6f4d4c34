package api

import (
	"time"

	"github.com/blokadaorg/blocka-agent/internal/entitlement"
)

// Wire envelopes for the blocka HTTP API. Every response wraps its payload
// in a named object.

type accountEnvelope struct {
	Account accountInfo `json:"account"`
}

type accountInfo struct {
	ID          string    `json:"id"`
	ActiveUntil time.Time `json:"active_until"`
}

type gatewaysEnvelope struct {
	Gateways []gatewayInfo `json:"gateways"`
}

type gatewayInfo struct {
	PublicKey            string    `json:"public_key"`
	Region               string    `json:"region"`
	Location             string    `json:"location"`
	ResourceUsagePercent int       `json:"resource_usage_percent"`
	IPv4                 string    `json:"ipv4"`
	IPv6                 string    `json:"ipv6"`
	Port                 int       `json:"port"`
	Expires              time.Time `json:"expires"`
	Tags                 []string  `json:"tags"`
}

func (g gatewayInfo) toGateway() entitlement.Gateway {
	return entitlement.Gateway{
		PublicKey:            g.PublicKey,
		Region:               g.Region,
		Location:             g.Location,
		ResourceUsagePercent: g.ResourceUsagePercent,
		IPv4:                 g.IPv4,
		IPv6:                 g.IPv6,
		Port:                 g.Port,
		Expires:              g.Expires,
		Tags:                 g.Tags,
	}
}

type leasesEnvelope struct {
	Leases []leaseInfo `json:"leases"`
}

type leaseEnvelope struct {
	Lease leaseInfo `json:"lease"`
}

type leaseInfo struct {
	AccountID string    `json:"account_id"`
	PublicKey string    `json:"public_key"`
	GatewayID string    `json:"gateway_id"`
	Expires   time.Time `json:"expires"`
	Alias     string    `json:"alias"`
	VIP4      string    `json:"vip4"`
	VIP6      string    `json:"vip6"`
}

func (l leaseInfo) toLease() entitlement.Lease {
	return entitlement.Lease{
		AccountID: l.AccountID,
		PublicKey: l.PublicKey,
		GatewayID: l.GatewayID,
		Expires:   l.Expires,
		Alias:     l.Alias,
		VIP4:      l.VIP4,
		VIP6:      l.VIP6,
	}
}

type leaseRequestBody struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
	GatewayID string `json:"gateway_id"`
	Alias     string `json:"alias,omitempty"`
}

func toLeaseRequestBody(req entitlement.LeaseRequest) leaseRequestBody {
	return leaseRequestBody{
		AccountID: req.AccountID,
		PublicKey: req.PublicKey,
		GatewayID: req.GatewayID,
		Alias:     req.Alias,
	}
}
