package controller

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common"
	"github.com/gatewayz/gatewayz/middleware"
	relaycontroller "github.com/gatewayz/gatewayz/relay/controller"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// ChatCompletions serves POST /v1/chat/completions for both streaming and
// non-streaming requests.
func ChatCompletions(h *relaycontroller.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req relaymodel.ChatRequest
		if err := common.UnmarshalBodyReusable(c, &req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest,
				relaymodel.WrapError(err, http.StatusBadRequest,
					relaymodel.CodeValidationError, "invalid request body"))
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			middleware.AbortWithError(c, http.StatusBadRequest,
				relaymodel.NewError(http.StatusBadRequest,
					relaymodel.CodeValidationError, "missing required field: model"))
			return
		}
		if len(req.Messages) == 0 {
			middleware.AbortWithError(c, http.StatusBadRequest,
				relaymodel.NewError(http.StatusBadRequest,
					relaymodel.CodeValidationError, "missing required field: messages"))
			return
		}

		if req.Stream {
			if apiErr := h.Stream(c, &req); apiErr != nil {
				middleware.AbortWithError(c, apiErr.Status, apiErr)
			}
			return
		}

		resp, apiErr := h.Complete(c, &req)
		if apiErr != nil {
			middleware.AbortWithError(c, apiErr.Status, apiErr)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
