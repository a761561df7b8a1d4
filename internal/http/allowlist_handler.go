package http

import (
	"github.com/gin-gonic/gin"

	"github.com/packlabs/packvault/internal/http/httputil"
	"github.com/packlabs/packvault/internal/services/allowlist"
)

// AllowlistHandler manages the contract allow-list.
type AllowlistHandler struct {
	allowlistSvc *allowlist.Service
}

func NewAllowlistHandler(allowlistSvc *allowlist.Service) *AllowlistHandler {
	return &AllowlistHandler{allowlistSvc: allowlistSvc}
}

func (h *AllowlistHandler) Root() string {
	return "/allowlist"
}

func (h *AllowlistHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	admin.GET("", h.list)
	admin.POST("", h.allow)
	admin.DELETE("/:address", h.disallow)
}

func (h *AllowlistHandler) list(c *gin.Context) {
	entries := h.allowlistSvc.List()
	out := make([]string, 0, len(entries))
	for _, addr := range entries {
		out = append(out, addr.Hex())
	}
	httputil.Success(c, out)
}

type AllowRequest struct {
	Address string `json:"address" binding:"required"`
}

func (h *AllowlistHandler) allow(c *gin.Context) {
	var body AllowRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	addr, err := parseAddress(body.Address)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := h.allowlistSvc.Allow(addr); err != nil {
		httputil.InternalError(c, err.Error())
		return
	}
	httputil.Success(c, gin.H{"address": addr.Hex(), "allowed": true})
}

func (h *AllowlistHandler) disallow(c *gin.Context) {
	addr, err := parseAddress(c.Param("address"))
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := h.allowlistSvc.Disallow(addr); err != nil {
		httputil.InternalError(c, err.Error())
		return
	}
	httputil.Success(c, gin.H{"address": addr.Hex(), "allowed": false})
}
