package orders

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// CreateOrderRequest is the request to create an order.
type CreateOrderRequest struct {
	TenantID          string `json:"tenant_id" binding:"required"`
	CustomerRef       string `json:"customer_ref"`
	AutoConfirm       bool   `json:"auto_confirm"`
	ReserveTTLSeconds int    `json:"reserve_ttl_seconds"`
	Items             []struct {
		ItemID    string `json:"item_id" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,gt=0"`
		UnitPrice int64  `json:"unit_price"`
	} `json:"items" binding:"required,min=1"`
}

// CancelOrderRequest is the request to cancel an order.
type CancelOrderRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	Reason   string `json:"reason"`
}

// TenantRequest carries just a tenant scope.
type TenantRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}

// Handler contains the HTTP handlers for orders.
type Handler struct {
	usecase *UseCase
}

// NewHandler creates a new order Handler.
func NewHandler(usecase *UseCase) *Handler {
	return &Handler{usecase: usecase}
}

// CreateOrder handles POST /api/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, OrderItem{ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	orderID, err := h.usecase.CreateOrder(c.Request.Context(), CreateOrderInput{
		TenantID:    req.TenantID,
		CustomerRef: req.CustomerRef,
		AutoConfirm: req.AutoConfirm,
		ReserveTTL:  time.Duration(req.ReserveTTLSeconds) * time.Second,
		Items:       items,
	})
	if err != nil {
		// A reservation failure still created the order; report both.
		if orderID != "" {
			se := apperrors.AsStandard(err)
			c.JSON(se.HTTPStatus(), gin.H{"order_id": orderID, "error": se.Code, "message": se.Message, "details": se.Details})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": orderID})
}

// GetOrder handles GET /api/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	order, err := h.usecase.GetOrder(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ConfirmOrder handles POST /api/orders/:id/confirm
func (h *Handler) ConfirmOrder(c *gin.Context) {
	var req TenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.usecase.ConfirmOrder(c.Request.Context(), req.TenantID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "confirmed"})
}

// CancelOrder handles POST /api/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.usecase.CancelOrder(c.Request.Context(), req.TenantID, c.Param("id"), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "cancelled"})
}

// ManualResync handles POST /api/orders/:id/resync
func (h *Handler) ManualResync(c *gin.Context) {
	var req TenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	processed, err := h.usecase.ManualResync(c.Request.Context(), req.TenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items_processed": processed})
}

func respondError(c *gin.Context, err error) {
	se := apperrors.AsStandard(err)
	c.JSON(se.HTTPStatus(), se)
}
