package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/fflags"
)

// GetMigrationReport reports the progress of the legacy identifier migration
// @Summary      Get the legacy identifier migration report
// @Id           GetMigrationReport
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  models.MigrationReport
// @Failure      405  {object}  models.NotAllowedError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/migration [get]
func (api *API) GetMigrationReport(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetMigrationReport")
	defer span.End()

	if !api.FlagCheck(c, fflags.MigrationAPI) {
		return
	}
	report, err := api.coordinator.Report(ctx)
	if err != nil {
		api.SendInternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
