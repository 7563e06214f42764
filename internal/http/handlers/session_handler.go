package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/producttest-backend/internal/http/handlers/common"
	"github.com/ignatzorin/producttest-backend/internal/service"
)

// SessionHandler — HTTP обёртка над машиной состояний тестовой сессии.
type SessionHandler struct {
	svc *service.SessionService
}

func NewSessionHandler(s *service.SessionService) *SessionHandler {
	return &SessionHandler{svc: s}
}

// Apply POST /test-sessions/:id/apply
func (h *SessionHandler) Apply(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	// :id здесь — идентификатор кампании, сессии ещё нет
	campaignID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Message *string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.Apply(c.Request.Context(), actor, service.ApplyInput{
		CampaignID: campaignID,
		Message:    req.Message,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// Accept POST /test-sessions/:id/accept
func (h *SessionHandler) Accept(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.Accept(c.Request.Context(), actor, sessionID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Reject POST /test-sessions/:id/reject
func (h *SessionHandler) Reject(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
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

	session, err := h.svc.Reject(c.Request.Context(), actor, sessionID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ValidatePrice POST /test-sessions/:id/validate-price
func (h *SessionHandler) ValidatePrice(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		ProductPrice float64 `json:"productPrice" binding:"required,gt=0"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.ValidatePrice(c.Request.Context(), actor, sessionID, req.ProductPrice)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// SubmitPurchase POST /test-sessions/:id/submit-purchase
func (h *SessionHandler) SubmitPurchase(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		OrderNumber      string  `json:"orderNumber" binding:"required"`
		ProductPrice     float64 `json:"productPrice" binding:"required,gt=0"`
		ShippingCost     float64 `json:"shippingCost" binding:"gte=0"`
		PurchaseProofURL *string `json:"purchaseProofUrl"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.SubmitPurchase(c.Request.Context(), actor, sessionID, service.SubmitPurchaseInput{
		OrderNumber:  req.OrderNumber,
		ProductPrice: req.ProductPrice,
		ShippingCost: req.ShippingCost,
		ProofURL:     req.PurchaseProofURL,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ValidatePurchase POST /test-sessions/:id/validate-purchase
func (h *SessionHandler) ValidatePurchase(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req service.ValidatePurchaseInput
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.ValidatePurchase(c.Request.Context(), actor, sessionID, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// RejectPurchase POST /test-sessions/:id/reject-purchase
func (h *SessionHandler) RejectPurchase(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
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

	session, err := h.svc.RejectPurchase(c.Request.Context(), actor, sessionID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// CompleteStep POST /test-sessions/:id/steps/:stepId/complete
func (h *SessionHandler) CompleteStep(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	stepID, err := common.ParseUUIDParam(c, "stepId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		SubmissionData json.RawMessage `json:"submissionData"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.CompleteStep(c.Request.Context(), actor, sessionID, stepID, req.SubmissionData)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// SubmitTest POST /test-sessions/:id/submit-test
func (h *SessionHandler) SubmitTest(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.SubmitTest(c.Request.Context(), actor, sessionID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Complete POST /test-sessions/:id/complete
func (h *SessionHandler) Complete(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.Complete(c.Request.Context(), actor, sessionID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Cancel POST /test-sessions/:id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		CancellationReason string `json:"cancellationReason" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.Cancel(c.Request.Context(), actor, sessionID, req.CancellationReason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSession GET /test-sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	session, err := h.svc.GetSession(c.Request.Context(), actor, sessionID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ListMySessions GET /test-sessions/my
func (h *SessionHandler) ListMySessions(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	sessions, err := h.svc.ListMySessions(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// ListCampaignSessions GET /test-sessions/campaigns/:campaignId
func (h *SessionHandler) ListCampaignSessions(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	campaignID, err := common.ParseUUIDParam(c, "campaignId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	sessions, err := h.svc.ListCampaignSessions(c.Request.Context(), actor, campaignID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}
