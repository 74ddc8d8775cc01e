package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/models"
)

func (suite *HandlerTestSuite) TestGetMigrationReport() {
	require := suite.Require()

	suite.T().Setenv("GHAPI_FFLAG_MIGRATION_API", "false")
	_, res, err := suite.ServeRequest(
		http.MethodGet,
		"/", "/",
		suite.api.GetMigrationReport, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusMethodNotAllowed, res.Code)

	legacyID := "8a1e2c44-5a2b-4f0e-9d59-3c0a3f3e9b11"
	require.NoError(suite.api.db.Create(&models.Device{
		OwnerID:  uuid.MustParse(TestUserID),
		LegacyID: &legacyID,
		State:    models.DeviceStateWaiting,
	}).Error)

	suite.T().Setenv("GHAPI_FFLAG_MIGRATION_API", "true")
	_, res, err = suite.ServeRequest(
		http.MethodGet,
		"/", "/",
		suite.api.GetMigrationReport, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, res.Body.String())
	require.JSONEq(`{
		"last_run_id": null,
		"started_at": null,
		"completed_at": null,
		"counts": {},
		"failures": [],
		"legacy_devices_pending": 1
	}`, res.Body.String())
}
