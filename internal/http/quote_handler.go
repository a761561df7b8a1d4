package http

import (
	"github.com/gin-gonic/gin"

	"github.com/packlabs/packvault/internal/http/httputil"
	"github.com/packlabs/packvault/internal/services/engine"
)

// QuoteHandler answers what a swap order would currently realize, straight
// from the order's router.
type QuoteHandler struct {
	engineSvc *engine.Service
}

func NewQuoteHandler(engineSvc *engine.Service) *QuoteHandler {
	return &QuoteHandler{engineSvc: engineSvc}
}

func (h *QuoteHandler) Root() string {
	return "/quote"
}

func (h *QuoteHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.POST("", h.getQuote)
}

type QuoteResponse struct {
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
}

func (h *QuoteHandler) getQuote(c *gin.Context) {
	var body SwapOrderDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	order, err := parseSwapOrder(body)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	out, err := h.engineSvc.QuoteSwap(c.Request.Context(), order)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	httputil.Success(c, QuoteResponse{
		TokenIn:   order.TokenIn.Hex(),
		TokenOut:  order.TokenOut.Hex(),
		AmountIn:  body.TokenAmountIn,
		AmountOut: out.String(),
	})
}
