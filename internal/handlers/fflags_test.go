package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/greenhouse-io/greenhouse/internal/models"
)

func (suite *HandlerTestSuite) TestFeatureFlags() {
	require := suite.Require()
	suite.T().Setenv("GHAPI_FFLAG_MIGRATION_API", "true")
	suite.T().Setenv("GHAPI_FFLAG_LEGACY_IDENTIFIERS", "false")

	_, res, err := suite.ServeRequest(
		http.MethodGet,
		"/", "/",
		suite.api.ListFeatureFlags, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, res.Body.String())

	var flags []models.FeatureFlag
	require.NoError(json.Unmarshal(res.Body.Bytes(), &flags))
	require.Equal([]models.FeatureFlag{
		{Name: "legacy-identifiers", Enabled: false, Env: "GHAPI_FFLAG_LEGACY_IDENTIFIERS"},
		{Name: "migration-api", Enabled: true, Env: "GHAPI_FFLAG_MIGRATION_API"},
	}, flags)

	_, res, err = suite.ServeRequest(
		http.MethodGet,
		"/:name", "/migration-api",
		suite.api.GetFeatureFlag, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, res.Body.String())
	require.JSONEq(`{"name":"migration-api","enabled":true,"env":"GHAPI_FFLAG_MIGRATION_API"}`, res.Body.String())

	_, res, err = suite.ServeRequest(
		http.MethodGet,
		"/:name", "/multi-organization",
		suite.api.GetFeatureFlag, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}
