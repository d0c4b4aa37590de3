package inventory

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// StockItemRequest is the request to stock an item.
type StockItemRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// ReserveRequest is the request to create a reservation. A zero TTL falls
// back to the server default.
type ReserveRequest struct {
	TenantID   string `json:"tenant_id" binding:"required"`
	OrderID    string `json:"order_id" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds" binding:"gte=0"`
	Items      []struct {
		ItemID   string `json:"item_id" binding:"required"`
		Quantity int    `json:"quantity" binding:"required,gt=0"`
	} `json:"items" binding:"required,min=1"`
}

// Sweeper abstracts the expiry sweep for the maintenance endpoint.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Handler contains the HTTP handlers for the stock ledger and reservations.
type Handler struct {
	usecase    *UseCase
	sweeper    Sweeper
	defaultTTL time.Duration
}

// NewHandler creates a new inventory Handler.
func NewHandler(usecase *UseCase, sweeper Sweeper, defaultTTL time.Duration) *Handler {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Handler{usecase: usecase, sweeper: sweeper, defaultTTL: defaultTTL}
}

// StockItem handles POST /api/inventory/items
func (h *Handler) StockItem(c *gin.Context) {
	var req StockItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.usecase.StockItem(c.Request.Context(), req.TenantID, req.ItemID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// GetItem handles GET /api/inventory/items/:id
func (h *Handler) GetItem(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	item, err := h.usecase.GetItem(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// RetireItem handles POST /api/inventory/items/:id/retire
func (h *Handler) RetireItem(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	if err := h.usecase.RetireItem(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "retired"})
}

// Reserve handles POST /api/reservations
func (h *Handler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]ReservationItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ReservationItem{ItemID: it.ItemID, Quantity: it.Quantity})
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl == 0 {
		ttl = h.defaultTTL
	}

	reservation, err := h.usecase.Reserve(c.Request.Context(), req.TenantID, req.OrderID,
		items, ttl)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

// Release handles POST /api/reservations/:id/release
func (h *Handler) Release(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	if err := h.usecase.Release(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "released"})
}

// ExpirySweep handles POST /api/maintenance/expiry-sweep, invoked by the
// external scheduler.
func (h *Handler) ExpirySweep(c *gin.Context) {
	count, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired_count": count})
}

func respondError(c *gin.Context, err error) {
	se := apperrors.AsStandard(err)
	c.JSON(se.HTTPStatus(), se)
}
