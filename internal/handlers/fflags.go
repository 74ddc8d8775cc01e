package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/models"
)

func (api *API) featureFlag(name string) (models.FeatureFlag, error) {
	enabled, err := api.fflags.GetFlag(name)
	if err != nil {
		return models.FeatureFlag{}, err
	}
	return models.FeatureFlag{
		Name:    name,
		Enabled: enabled,
		Env:     api.fflags.Env(name),
	}, nil
}

// ListFeatureFlags lists the server feature flags
// @Summary      List Feature Flags
// @Description  Lists the server feature flags ordered by name
// @Id           ListFeatureFlags
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  []models.FeatureFlag
// @Failure      401  {object}  models.BaseError
// @Router       /admin/fflags [get]
func (api *API) ListFeatureFlags(c *gin.Context) {
	names := api.fflags.Names()
	result := make([]models.FeatureFlag, 0, len(names))
	for _, name := range names {
		flag, err := api.featureFlag(name)
		if err != nil {
			api.SendInternalServerError(c, err)
			return
		}
		result = append(result, flag)
	}
	c.JSON(http.StatusOK, result)
}

// GetFeatureFlag gets a feature flag by name
// @Summary      Get Feature Flag
// @Id           GetFeatureFlag
// @Tags         Admin
// @Produce      json
// @Param        name  path      string  true  "feature flag name"
// @Success      200  {object}  models.FeatureFlag
// @Failure      401  {object}  models.BaseError
// @Failure      404  {object}  models.NotFoundError
// @Router       /admin/fflags/{name} [get]
func (api *API) GetFeatureFlag(c *gin.Context) {
	flag, err := api.featureFlag(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("flag"))
		return
	}
	c.JSON(http.StatusOK, flag)
}
