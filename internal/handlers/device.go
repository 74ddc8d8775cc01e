package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

// RegisterDevice registers a device into a Project slot
// @Summary      Register a Device
// @Description  Registers a device into a free slot. The secret in the response is only shown once.
// @Id           RegisterDevice
// @Tags         Devices
// @Accept       json
// @Produce      json
// @Param        code    path      string            true  "Project Code"
// @Param        Device  body      models.AddDevice  true  "Add Device"
// @Success      201  {object}  models.DeviceRegistration
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      409  {object}  models.ConflictsError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects/{code}/devices [post]
func (api *API) RegisterDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "RegisterDevice")
	defer span.End()
	userId := api.GetCurrentUserID(c)

	var request models.AddDevice
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	if request.Slot == 0 {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("slot"))
		return
	}

	registration, err := api.devices.Register(ctx, userId, c.Param("code"), request.Slot, request.DisplayName)
	if err != nil {
		api.sendError(c, err, "code", "project")
		return
	}
	span.SetAttributes(attribute.String("composite_id", registration.CompositeID))
	c.JSON(http.StatusCreated, registration)
}

// ListProjectDevices lists the Devices of a Project
// @Summary      List Devices of a Project
// @Id           ListProjectDevices
// @Tags         Devices
// @Produce      json
// @Param        code   path      string  true "Project Code"
// @Success      200  {object}  []models.Device
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects/{code}/devices [get]
func (api *API) ListProjectDevices(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListProjectDevices")
	defer span.End()

	devices, err := api.devices.ListByProject(ctx, api.GetCurrentUserID(c), c.Param("code"))
	if err != nil {
		api.sendError(c, err, "code", "project")
		return
	}
	c.JSON(http.StatusOK, devices)
}

// GetDevice gets a Device by composite id
// @Summary      Get a Device
// @Id           GetDevice
// @Tags         Devices
// @Produce      json
// @Param        composite_id   path      string  true "Composite Device ID"
// @Success      200  {object}  models.Device
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/devices/{composite_id} [get]
func (api *API) GetDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetDevice")
	defer span.End()

	device, err := api.devices.Get(ctx, api.GetCurrentUserID(c), c.Param("composite_id"))
	if err != nil {
		api.sendError(c, err, "composite_id", "device")
		return
	}
	c.JSON(http.StatusOK, device)
}

// DeleteDevice deletes a Device
// @Summary      Delete a Device
// @Description  Deletes a device and its heartbeats, freeing its slot
// @Id           DeleteDevice
// @Tags         Devices
// @Param        composite_id   path      string  true "Composite Device ID"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/devices/{composite_id} [delete]
func (api *API) DeleteDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "DeleteDevice")
	defer span.End()
	compositeID := c.Param("composite_id")
	span.SetAttributes(attribute.String("composite_id", compositeID))

	if err := api.devices.Delete(ctx, api.GetCurrentUserID(c), compositeID); err != nil {
		api.sendError(c, err, "composite_id", "device")
		return
	}
	c.Status(http.StatusNoContent)
}
