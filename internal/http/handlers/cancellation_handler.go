package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/producttest-backend/internal/http/handlers/common"
	"github.com/ignatzorin/producttest-backend/internal/service"
)

type CancellationHandler struct {
	svc *service.CancellationService
}

func NewCancellationHandler(s *service.CancellationService) *CancellationHandler {
	return &CancellationHandler{svc: s}
}

// Impact GET /cancellations/campaigns/:id/impact
func (h *CancellationHandler) Impact(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	campaignID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	impact, err := h.svc.PreviewImpact(c.Request.Context(), actor, campaignID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, impact)
}

// Cancel POST /cancellations/campaigns/:id/cancel
func (h *CancellationHandler) Cancel(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	campaignID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	impact, err := h.svc.CancelCampaign(c.Request.Context(), actor, campaignID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, impact)
}

// AdminCancel POST /cancellations/campaigns/:id/admin-cancel
func (h *CancellationHandler) AdminCancel(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	campaignID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.svc.AdminCancelCampaign(c.Request.Context(), actor, campaignID, req.Reason); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "кампания отменена"})
}
