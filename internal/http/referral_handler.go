package http

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/packlabs/packvault/internal/http/httputil"
	"github.com/packlabs/packvault/internal/services/ledger"
)

// ReferralHandler serves referral balances and payouts plus the fee totals.
type ReferralHandler struct {
	ledgerSvc *ledger.Service
}

func NewReferralHandler(ledgerSvc *ledger.Service) *ReferralHandler {
	return &ReferralHandler{ledgerSvc: ledgerSvc}
}

func (h *ReferralHandler) Root() string {
	return "/referrals"
}

func (h *ReferralHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("/:address", h.getBalance)

	private.POST("/:address/claim", h.claim)

	admin.GET("/fees", h.getFees)
}

type ReferralBalanceResponse struct {
	Address    string `json:"address"`
	BalanceWei string `json:"balanceWei"`
	EarnedWei  string `json:"earnedWei"`
	ClaimedWei string `json:"claimedWei"`
}

func (h *ReferralHandler) getBalance(c *gin.Context) {
	addr, err := parseAddress(c.Param("address"))
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	balance, earned, claimed := h.ledgerSvc.Balance(addr)
	httputil.Success(c, ReferralBalanceResponse{
		Address:    addr.Hex(),
		BalanceWei: balance.String(),
		EarnedWei:  earned.String(),
		ClaimedWei: claimed.String(),
	})
}

func (h *ReferralHandler) claim(c *gin.Context) {
	addr, err := parseAddress(c.Param("address"))
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	paid, err := h.ledgerSvc.Claim(c.Request.Context(), addr)
	if err != nil {
		if errors.Is(err, ledger.ErrNothingToClaim) {
			httputil.BadRequest(c, err.Error())
			return
		}
		httputil.InternalError(c, err.Error())
		return
	}
	httputil.Success(c, gin.H{"address": addr.Hex(), "paidWei": paid.String()})
}

func (h *ReferralHandler) getFees(c *gin.Context) {
	httputil.Success(c, gin.H{
		"protocolFeeWei": h.ledgerSvc.ProtocolFee().String(),
		"totalFeesWei":   h.ledgerSvc.TotalFees().String(),
	})
}
