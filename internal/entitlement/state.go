package entitlement

import (
	"strings"
	"time"
)

// CurrentAccount is the locally cached account record for this device.
// It is owned by the AccountManager; everyone else reads snapshots.
type CurrentAccount struct {
	ID               string    `json:"id"`                 // Remote-assigned account ID; empty means no account yet.
	ActiveUntil      time.Time `json:"active_until"`       // Entitlement expiry; zero for unpaid accounts.
	PrivateKey       string    `json:"private_key"`        // Device WireGuard private key (base64).
	PublicKey        string    `json:"public_key"`         // Device WireGuard public key (base64).
	LastAccountCheck time.Time `json:"last_account_check"` // Last successful remote confirmation.
	AccountOK        bool      `json:"account_ok"`         // Whether the cached record can be trusted.
}

// Active reports whether the account entitlement is paid up at the given time.
func (a CurrentAccount) Active(now time.Time) bool {
	return a.ActiveUntil.After(now)
}

// CurrentLease is the locally cached lease record for this device.
// It is owned by the LeaseManager; everyone else reads snapshots.
type CurrentLease struct {
	GatewayID        string    `json:"gateway_id"`         // Selected gateway public key; empty means none selected.
	GatewayIP        string    `json:"gateway_ip"`         // Resolved gateway IPv4 address.
	GatewayName      string    `json:"gateway_name"`       // Resolved gateway display name.
	VIP4             string    `json:"vip4"`               // Virtual IPv4 assigned by the lease.
	VIP6             string    `json:"vip6"`               // Virtual IPv6 assigned by the lease.
	LeaseActiveUntil time.Time `json:"lease_active_until"` // Lease expiry.
	LeaseOK          bool      `json:"lease_ok"`           // Whether the lease fields are currently usable.
}

// Valid reports whether the cached lease has not expired at the given time.
func (l CurrentLease) Valid(now time.Time) bool {
	return l.LeaseActiveUntil.After(now)
}

// overloadThreshold is the resource usage percentage at which a gateway
// stops being offered as a sensible choice.
const overloadThreshold = 100

// Gateway describes a VPN endpoint from the remote gateway directory.
type Gateway struct {
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

// NiceName returns a human-readable name derived from the location slug,
// for example "nyc-east" becomes "Nyc East".
func (g Gateway) NiceName() string {
	parts := strings.Split(g.Location, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Overloaded reports whether the gateway is at capacity.
func (g Gateway) Overloaded() bool {
	return g.ResourceUsagePercent >= overloadThreshold
}

// Lease is a remote lease record binding a device public key and virtual
// addresses to a gateway for a limited time.
type Lease struct {
	AccountID string    `json:"account_id"`
	PublicKey string    `json:"public_key"`
	GatewayID string    `json:"gateway_id"`
	Expires   time.Time `json:"expires"`
	Alias     string    `json:"alias"`
	VIP4      string    `json:"vip4"`
	VIP6      string    `json:"vip6"`
}

// NiceName returns the lease alias, or a public key prefix when no alias
// was set at creation time.
func (l Lease) NiceName() string {
	if strings.TrimSpace(l.Alias) != "" {
		return l.Alias
	}
	if len(l.PublicKey) > 5 {
		return l.PublicKey[:5]
	}
	return l.PublicKey
}

// LeaseRequest is the payload for creating or deleting a lease.
type LeaseRequest struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
	GatewayID string `json:"gateway_id"`
	Alias     string `json:"alias,omitempty"`
}
