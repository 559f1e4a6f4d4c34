package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/blokadaorg/blocka-agent/internal/entitlement"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// accountService is the account surface exposed over HTTP.
type accountService interface {
	Account() entitlement.CurrentAccount
	RestoreAccount(ctx context.Context, newID string) error
}

// leaseService is the lease surface exposed over HTTP.
type leaseService interface {
	Lease() entitlement.CurrentLease
	Gateways() []entitlement.Gateway
	SetGateway(gatewayID string)
	Sync(ctx context.Context, account entitlement.CurrentAccount) error
	DeleteLease(ctx context.Context, account entitlement.CurrentAccount, publicKey, gatewayID string) error
}

// scheduler triggers reconciliation runs.
type scheduler interface {
	Kick()
	OnScreenOn()
	NextWake() (time.Time, bool)
}

// stateSaver persists snapshots changed by HTTP operations.
type stateSaver interface {
	SaveAccount(ctx context.Context, account entitlement.CurrentAccount) error
	SaveLease(ctx context.Context, lease entitlement.CurrentLease) error
}

// Handler serves the local read-only snapshot and control endpoints for
// collaborators (UI bindings, the tunnel data-plane, the filtering engine).
type Handler struct {
	accounts  accountService
	leases    leaseService
	scheduler scheduler
	store     stateSaver
	now       func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(accounts accountService, leases leaseService, sched scheduler, store stateSaver) *Handler {
	return &Handler{
		accounts:  accounts,
		leases:    leases,
		scheduler: sched,
		store:     store,
		now:       time.Now,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", h.Health)
	v1 := engine.Group("/v1")
	{
		v1.GET("/account", h.GetAccount)
		v1.POST("/account/restore", h.RestoreAccount)
		v1.GET("/lease", h.GetLease)
		v1.DELETE("/lease", h.DeleteLease)
		v1.GET("/gateways", h.ListGateways)
		v1.PUT("/gateway", h.SelectGateway)
		v1.POST("/sync", h.TriggerSync)
		v1.POST("/screen-on", h.ScreenOn)
	}
	return engine
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetAccount returns the account snapshot with the private key redacted.
func (h *Handler) GetAccount(c *gin.Context) {
	account := h.accounts.Account()
	c.JSON(http.StatusOK, gin.H{
		"id":                 account.ID,
		"active_until":       account.ActiveUntil,
		"public_key":         account.PublicKey,
		"last_account_check": account.LastAccountCheck,
		"account_ok":         account.AccountOK,
		"active":             account.Active(h.now()),
	})
}

// RestoreAccount rebinds the device to an existing account ID.
func (h *Handler) RestoreAccount(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing account id"})
		return
	}

	if errRestore := h.accounts.RestoreAccount(c.Request.Context(), body.ID); errRestore != nil {
		status := http.StatusBadGateway
		if errors.Is(errRestore, entitlement.ErrNoAccount) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "restore account failed"})
		return
	}

	h.persist(c.Request.Context())
	h.scheduler.Kick()
	c.JSON(http.StatusOK, gin.H{"id": h.accounts.Account().ID})
}

// GetLease returns the lease snapshot and the next scheduled wake-up.
func (h *Handler) GetLease(c *gin.Context) {
	lease := h.leases.Lease()
	out := gin.H{
		"gateway_id":         lease.GatewayID,
		"gateway_ip":         lease.GatewayIP,
		"gateway_name":       lease.GatewayName,
		"vip4":               lease.VIP4,
		"vip6":               lease.VIP6,
		"lease_active_until": lease.LeaseActiveUntil,
		"lease_ok":           lease.LeaseOK,
	}
	if wake, ok := h.scheduler.NextWake(); ok {
		out["next_check"] = wake
	}
	c.JSON(http.StatusOK, out)
}

// ListGateways returns the cached gateway directory.
func (h *Handler) ListGateways(c *gin.Context) {
	gateways := h.leases.Gateways()
	out := make([]gin.H, 0, len(gateways))
	for _, gw := range gateways {
		out = append(out, gin.H{
			"public_key":             gw.PublicKey,
			"region":                 gw.Region,
			"location":               gw.Location,
			"nice_name":              gw.NiceName(),
			"ipv4":                   gw.IPv4,
			"ipv6":                   gw.IPv6,
			"port":                   gw.Port,
			"resource_usage_percent": gw.ResourceUsagePercent,
			"overloaded":             gw.Overloaded(),
			"tags":                   gw.Tags,
		})
	}
	c.JSON(http.StatusOK, gin.H{"gateways": out})
}

// SelectGateway switches the lease to a new gateway and syncs against it,
// reverting to the previous gateway when the new one cannot be leased.
func (h *Handler) SelectGateway(c *gin.Context) {
	var body struct {
		GatewayID string `json:"gateway_id"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	ctx := c.Request.Context()
	previous := h.leases.Lease().GatewayID
	h.leases.SetGateway(body.GatewayID)

	if body.GatewayID != "" {
		if errSync := h.leases.Sync(ctx, h.accounts.Account()); errSync != nil {
			log.WithError(errSync).Warn("httpapi: gateway selection failed, reverting")
			h.leases.SetGateway(previous)
			if errRevert := h.leases.Sync(ctx, h.accounts.Account()); errRevert != nil {
				log.WithError(errRevert).Warn("httpapi: gateway revert sync failed")
			}
			h.persist(ctx)
			h.respondLeaseError(c, errSync)
			return
		}
	}

	h.persist(ctx)
	c.JSON(http.StatusOK, gin.H{"gateway_id": h.leases.Lease().GatewayID})
}

// DeleteLease revokes a remote lease record, typically to free a device slot.
func (h *Handler) DeleteLease(c *gin.Context) {
	var body struct {
		PublicKey string `json:"public_key" binding:"required"`
		GatewayID string `json:"gateway_id" binding:"required"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing public_key or gateway_id"})
		return
	}

	ctx := c.Request.Context()
	if errDelete := h.leases.DeleteLease(ctx, h.accounts.Account(), body.PublicKey, body.GatewayID); errDelete != nil {
		h.respondLeaseError(c, errDelete)
		return
	}
	h.scheduler.Kick()
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// TriggerSync requests a reconciliation run.
func (h *Handler) TriggerSync(c *gin.Context) {
	h.scheduler.Kick()
	c.JSON(http.StatusAccepted, gin.H{"syncing": true})
}

// ScreenOn reports a device wake-up from the platform glue. At most one sync
// per calendar day is contributed through this trigger.
func (h *Handler) ScreenOn(c *gin.Context) {
	h.scheduler.OnScreenOn()
	c.JSON(http.StatusAccepted, gin.H{"reported": true})
}

func (h *Handler) respondLeaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entitlement.ErrTooManyDevices):
		c.JSON(http.StatusForbidden, gin.H{"error": "too_many_devices"})
	case errors.Is(err, entitlement.ErrNoAccount):
		c.JSON(http.StatusConflict, gin.H{"error": "no_account"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "lease operation failed"})
	}
}

func (h *Handler) persist(ctx context.Context) {
	if h.store == nil {
		return
	}
	if errSave := h.store.SaveAccount(ctx, h.accounts.Account()); errSave != nil {
		log.WithError(errSave).Warn("httpapi: persist account failed")
	}
	if errSave := h.store.SaveLease(ctx, h.leases.Lease()); errSave != nil {
		log.WithError(errSave).Warn("httpapi: persist lease failed")
	}
}
