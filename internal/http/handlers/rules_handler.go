package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/producttest-backend/internal/http/handlers/common"
	"github.com/ignatzorin/producttest-backend/internal/service"
)

type RulesHandler struct {
	svc *service.RulesService
}

func NewRulesHandler(s *service.RulesService) *RulesHandler {
	return &RulesHandler{svc: s}
}

// GetRules GET /rules
func (h *RulesHandler) GetRules(c *gin.Context) {
	rules, err := h.svc.Current(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, rules)
}

// UpdateRules PUT /rules
func (h *RulesHandler) UpdateRules(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req service.UpdateRulesInput
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	rules, err := h.svc.UpdateRules(c.Request.Context(), actor, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, rules)
}
