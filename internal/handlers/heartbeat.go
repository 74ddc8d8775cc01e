package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/models"
)

// Heartbeat records a heartbeat sent by a device
// @Summary      Send a device heartbeat
// @Description  Authenticates the device with its secret and marks it online
// @Id           Heartbeat
// @Tags         Device
// @Accept       json
// @Produce      json
// @Param        Heartbeat  body     models.HeartbeatRequest  true  "Heartbeat"
// @Success      200  {object}  models.HeartbeatResponse
// @Failure      400  {object}  models.ValidationError
// @Failure      401  {object}  models.BaseError
// @Failure      404  {object}  models.NotFoundError
// @Failure      503  {object}  models.BaseError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /device/heartbeat [post]
func (api *API) Heartbeat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "Heartbeat")
	defer span.End()

	var request models.HeartbeatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	if request.DeviceID == "" {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("device_id"))
		return
	}

	result, err := api.heartbeats.Process(ctx, request.DeviceID, request.Secret, request.Telemetry)
	if err != nil {
		if apiErr := toApiResponseError(err, "device_id", "device"); apiErr != nil {
			if apiErr.Status == http.StatusBadRequest {
				apiErr.Body = models.NewFieldValidationError("device_id", "malformed device identifier")
			}
			c.JSON(apiErr.Status, apiErr.Body)
			return
		}
		api.SendInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.HeartbeatResponse{
		DeviceID:   result.Identifier,
		State:      result.State,
		ServerTime: api.now().UTC(),
	})
}
