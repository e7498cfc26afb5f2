package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common"
	"github.com/gatewayz/gatewayz/middleware"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
	"github.com/gatewayz/gatewayz/relay/router"
)

// CodeRouterInfo serves GET /api/router/code: the active quality priors.
func CodeRouterInfo(code *router.CodeRouter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"kind":   router.KindCode,
			"modes":  []string{router.ModeAuto, router.ModePrice, router.ModeQuality, router.ModeAgentic},
			"config": code.Config(),
		})
	}
}

// GeneralRouterInfo serves GET /api/router/general.
func GeneralRouterInfo(general *router.GeneralRouter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"kind":                router.KindGeneral,
			"modes":               []string{router.ModeBalanced, router.ModeQuality, router.ModeCost, router.ModeLatency},
			"selector_configured": general.SelectorConfigured(),
			"fallback_models":     router.FallbackModels(),
		})
	}
}

// routerTestRequest is the dry-run payload: a model directive plus the
// conversation to classify.
type routerTestRequest struct {
	Model    string               `json:"model"`
	Messages []relaymodel.Message `json:"messages"`
}

// RouterTest serves POST /api/router/test: runs classification and model
// selection without performing any inference.
func RouterTest(code *router.CodeRouter, general *router.GeneralRouter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req routerTestRequest
		if err := common.UnmarshalBodyReusable(c, &req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest,
				relaymodel.WrapError(err, http.StatusBadRequest,
					relaymodel.CodeValidationError, "invalid request body"))
			return
		}
		if req.Model == "" {
			req.Model = "router:code"
		}

		directive, ok, err := router.ParseDirective(req.Model)
		if !ok {
			middleware.AbortWithError(c, http.StatusBadRequest,
				relaymodel.NewError(http.StatusBadRequest,
					relaymodel.CodeValidationError, "model is not a router directive"))
			return
		}
		if err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest,
				relaymodel.WrapError(err, http.StatusBadRequest,
					relaymodel.CodeValidationError, "unrecognized router directive"))
			return
		}

		switch directive.Kind {
		case router.KindCode:
			sel := code.Route(req.Messages, directive.Mode)
			c.JSON(http.StatusOK, gin.H{
				"directive":      directive.String(),
				"is_code_prompt": code.IsCodePrompt(req.Messages),
				"selection":      sel,
			})
		default:
			sel := general.Route(c.Request.Context(), req.Messages, directive.Mode, nil)
			c.JSON(http.StatusOK, gin.H{
				"directive": directive.String(),
				"selection": sel,
			})
		}
	}
}
