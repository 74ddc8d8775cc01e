package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

// CreateProject creates a new Project
// @Summary      Create a Project
// @Description  Creates a named project and allocates its project code
// @Id           CreateProject
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        Project  body     models.AddProject  true  "Add Project"
// @Success      201  {object}  models.Project
// @Failure      400  {object}  models.ValidationError
// @Failure      401  {object}  models.BaseError
// @Failure      409  {object}  models.ConflictsError
// @Failure      507  {object}  models.CapacityError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects [post]
func (api *API) CreateProject(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateProject")
	defer span.End()
	userId := api.GetCurrentUserID(c)

	var request models.AddProject
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}

	project, err := api.projects.Create(ctx, userId, request.Name, request.Description)
	if err != nil {
		api.sendError(c, err, "name", "project code")
		return
	}
	span.SetAttributes(attribute.String("code", project.Code))
	c.JSON(http.StatusCreated, project)
}

// ListProjects lists the Projects of the current user
// @Summary      List Projects
// @Id           ListProjects
// @Tags         Projects
// @Produce      json
// @Success      200  {object}  []models.Project
// @Failure      401  {object}  models.BaseError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects [get]
func (api *API) ListProjects(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListProjects")
	defer span.End()

	projects, err := api.projects.ListByOwner(ctx, api.GetCurrentUserID(c))
	if err != nil {
		api.SendInternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// GetProject gets a Project by code
// @Summary      Get a Project
// @Id           GetProject
// @Tags         Projects
// @Produce      json
// @Param        code   path      string  true "Project Code"
// @Success      200  {object}  models.Project
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects/{code} [get]
func (api *API) GetProject(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetProject")
	defer span.End()
	code := c.Param("code")
	span.SetAttributes(attribute.String("code", code))

	project, err := api.projects.Get(ctx, api.GetCurrentUserID(c), code)
	if err != nil {
		api.sendError(c, err, "code", "project")
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject deletes a Project and all of its devices
// @Summary      Delete a Project
// @Id           DeleteProject
// @Tags         Projects
// @Param        code   path      string  true "Project Code"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects/{code} [delete]
func (api *API) DeleteProject(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "DeleteProject")
	defer span.End()
	code := c.Param("code")
	span.SetAttributes(attribute.String("code", code))

	if err := api.projects.Delete(ctx, api.GetCurrentUserID(c), code); err != nil {
		api.sendError(c, err, "code", "project")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListProjectSlots lists the device slots of a Project
// @Summary      List the device slots of a Project
// @Description  Lists all twenty slots with their composite id and whether a device occupies them
// @Id           ListProjectSlots
// @Tags         Projects
// @Produce      json
// @Param        code   path      string  true "Project Code"
// @Success      200  {object}  []models.SlotInfo
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /api/projects/{code}/slots [get]
func (api *API) ListProjectSlots(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListProjectSlots")
	defer span.End()

	slots, err := api.devices.ListAvailableSlots(ctx, api.GetCurrentUserID(c), c.Param("code"))
	if err != nil {
		api.sendError(c, err, "code", "project")
		return
	}
	c.JSON(http.StatusOK, slots)
}
