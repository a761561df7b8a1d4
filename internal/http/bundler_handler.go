package http

import (
	"github.com/gin-gonic/gin"

	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/http/httputil"
	"github.com/packlabs/packvault/internal/services/registry"
)

// BundlerHandler exposes the registered presets and their registration.
type BundlerHandler struct {
	registrySvc *registry.Service
}

func NewBundlerHandler(registrySvc *registry.Service) *BundlerHandler {
	return &BundlerHandler{registrySvc: registrySvc}
}

func (h *BundlerHandler) Root() string {
	return "/bundlers"
}

func (h *BundlerHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("", h.listBundlers)
	pub.GET("/:id", h.getBundler)

	admin.POST("", h.registerBundler)
}

type BundlerPresetDTO struct {
	ID         string `json:"id" binding:"required"`
	Router     string `json:"router" binding:"required"`
	RouterType uint8  `json:"routerType"`

	Token0 string `json:"token0"`
	Token1 string `json:"token1" binding:"required"`

	SingleSided   bool   `json:"singleSided"`
	PercentToken0 uint16 `json:"percentToken0"`
	PercentToken1 uint16 `json:"percentToken1"`

	Route        []RouteHopDTO `json:"route"`
	ReverseRoute []RouteHopDTO `json:"reverseRoute"`

	PoolID          string `json:"poolId"`
	Stable          bool   `json:"stable"`
	TickLower       int32  `json:"tickLower"`
	TickUpper       int32  `json:"tickUpper"`
	PositionManager string `json:"positionManager"`

	SlippageBps            uint16 `json:"slippageBps"`
	ExitPositionOnUnbundle bool   `json:"exitPositionOnUnbundle"`
}

func presetDTO(p *domain.BundlerPreset) BundlerPresetDTO {
	dto := BundlerPresetDTO{
		ID:                     p.ID.String(),
		Router:                 p.Router.Hex(),
		RouterType:             uint8(p.RouterType),
		Token0:                 p.Token0.Hex(),
		Token1:                 p.Token1.Hex(),
		SingleSided:            p.SingleSided,
		PercentToken0:          p.PercentToken0,
		PercentToken1:          p.PercentToken1,
		PoolID:                 p.PoolID.Hex(),
		Stable:                 p.Stable,
		TickLower:              p.TickLower,
		TickUpper:              p.TickUpper,
		PositionManager:        p.PositionManager.Hex(),
		SlippageBps:            p.SlippageBps,
		ExitPositionOnUnbundle: p.ExitPositionOnUnbundle,
	}
	for _, hop := range p.Route {
		dto.Route = append(dto.Route, RouteHopDTO{From: hop.From.Hex(), To: hop.To.Hex(), Stable: hop.Stable})
	}
	for _, hop := range p.ReverseRoute {
		dto.ReverseRoute = append(dto.ReverseRoute, RouteHopDTO{From: hop.From.Hex(), To: hop.To.Hex(), Stable: hop.Stable})
	}
	return dto
}

func presetFromDTO(dto *BundlerPresetDTO) (*domain.BundlerPreset, error) {
	preset := &domain.BundlerPreset{
		ID:                     domain.BundlerIDFromString(dto.ID),
		RouterType:             domain.RouterType(dto.RouterType),
		SingleSided:            dto.SingleSided,
		PercentToken0:          dto.PercentToken0,
		PercentToken1:          dto.PercentToken1,
		Stable:                 dto.Stable,
		TickLower:              dto.TickLower,
		TickUpper:              dto.TickUpper,
		SlippageBps:            dto.SlippageBps,
		ExitPositionOnUnbundle: dto.ExitPositionOnUnbundle,
	}
	var err error
	if preset.Router, err = parseAddress(dto.Router); err != nil {
		return nil, err
	}
	if dto.Token0 != "" {
		if preset.Token0, err = parseAddress(dto.Token0); err != nil {
			return nil, err
		}
	}
	if preset.Token1, err = parseAddress(dto.Token1); err != nil {
		return nil, err
	}
	if preset.Route, err = parseRoute(dto.Route); err != nil {
		return nil, err
	}
	if preset.ReverseRoute, err = parseRoute(dto.ReverseRoute); err != nil {
		return nil, err
	}
	if preset.PoolID, err = parsePoolID(dto.PoolID); err != nil {
		return nil, err
	}
	if dto.PositionManager != "" {
		if preset.PositionManager, err = parseAddress(dto.PositionManager); err != nil {
			return nil, err
		}
	}
	return preset, nil
}

func (h *BundlerHandler) listBundlers(c *gin.Context) {
	presets := h.registrySvc.ListBundlers()
	out := make([]BundlerPresetDTO, 0, len(presets))
	for _, p := range presets {
		out = append(out, presetDTO(p))
	}
	httputil.Success(c, out)
}

func (h *BundlerHandler) getBundler(c *gin.Context) {
	preset, err := h.registrySvc.GetBundler(domain.BundlerIDFromString(c.Param("id")))
	if err != nil {
		httputil.NotFound(c, err.Error())
		return
	}
	httputil.Success(c, presetDTO(preset))
}

func (h *BundlerHandler) registerBundler(c *gin.Context) {
	var body BundlerPresetDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	preset, err := presetFromDTO(&body)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := h.registrySvc.RegisterBundler(preset); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	httputil.Success(c, presetDTO(preset))
}
