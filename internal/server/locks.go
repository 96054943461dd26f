package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/locksync/internal/lock"
)

// LockHandler serves the lock service protocol from a MemoryServer:
// GET /locks/:name answers 200 when the lock exists and 404 when it does not,
// PUT /locks/:name answers 200 when the caller owns it and 409 on conflict.
// The caller is identified by lock.OwnerHeader, or its address without one.
type LockHandler struct {
	store  *lock.MemoryServer
	logger zerolog.Logger
}

// NewLockHandler creates a lock service handler backed by store.
func NewLockHandler(store *lock.MemoryServer, logger zerolog.Logger) *LockHandler {
	return &LockHandler{
		store:  store,
		logger: logger.With().Str("component", "lock-service").Logger(),
	}
}

// RegisterRoutes registers the lock routes on the provided router.
func (h *LockHandler) RegisterRoutes(router gin.IRouter) {
	locks := router.Group("/locks")
	locks.GET("/:name", h.Check)
	locks.PUT("/:name", h.AcquireOrRenew)
}

// Check handles GET /locks/:name.
func (h *LockHandler) Check(c *gin.Context) {
	presence, err := h.store.Client(h.owner(c)).CheckPresence(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	if presence == lock.PresencePresent {
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusNotFound)
}

// AcquireOrRenew handles PUT /locks/:name.
func (h *LockHandler) AcquireOrRenew(c *gin.Context) {
	name := c.Param("name")
	owner := h.owner(c)

	ownership, err := h.store.Client(owner).AcquireOrRenew(c.Request.Context(), name)
	if err != nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	if ownership == lock.OwnershipConflict {
		h.logger.Debug().Str("lock", name).Str("owner", owner).Msg("lock held by another owner")
		c.Status(http.StatusConflict)
		return
	}
	c.Status(http.StatusOK)
}

func (h *LockHandler) owner(c *gin.Context) string {
	if owner := c.GetHeader(lock.OwnerHeader); owner != "" {
		return owner
	}
	return c.ClientIP()
}
