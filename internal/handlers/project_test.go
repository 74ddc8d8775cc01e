package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/greenhouse-io/greenhouse/internal/models"
)

func (suite *HandlerTestSuite) TestCreateProject() {
	require := suite.Require()

	project := suite.createProject("Greenhouse A")
	require.Equal("PROJ1", project.Code)
	require.Equal("Greenhouse A", project.Name)

	for _, tc := range []struct {
		body   string
		status int
		field  string
	}{
		{`{"name": "greenhouse a"}`, http.StatusConflict, "name"},
		{`{"name": "  "}`, http.StatusBadRequest, "name"},
		{`{"name": `, http.StatusBadRequest, ""},
	} {
		_, res, err := suite.ServeRequest(
			http.MethodPost,
			"/", "/",
			suite.api.CreateProject, bytes.NewBufferString(tc.body),
		)
		require.NoError(err)
		body, err := io.ReadAll(res.Body)
		require.NoError(err)
		require.Equal(tc.status, res.Code, string(body))

		var e map[string]string
		require.NoError(json.Unmarshal(body, &e))
		require.Equal(tc.field, e["field"])
	}

	second := suite.createProject("Greenhouse B")
	require.Equal("PROJ2", second.Code)
}

func (suite *HandlerTestSuite) TestProjectsAreScopedToOwner() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")

	suite.userID = OtherUserID
	for _, uri := range []string{"/" + project.Code, "/PROJ42"} {
		_, res, err := suite.ServeRequest(
			http.MethodGet,
			"/:code", uri,
			suite.api.GetProject, nil,
		)
		require.NoError(err)
		body, err := io.ReadAll(res.Body)
		require.NoError(err)
		require.Equal(http.StatusNotFound, res.Code)
		require.JSONEq(`{"error":"not found","resource":"project"}`, string(body))
	}

	_, res, err := suite.ServeRequest(
		http.MethodGet,
		"/", "/",
		suite.api.ListProjects, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	require.JSONEq(`[]`, res.Body.String())

	_, res, err = suite.ServeRequest(
		http.MethodGet,
		"/:code", "/proj1",
		suite.api.GetProject, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestListProjectSlots() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")
	suite.registerDevice(project.Code, 5)

	_, res, err := suite.ServeRequest(
		http.MethodGet,
		"/:code/slots", "/"+project.Code+"/slots",
		suite.api.ListProjectSlots, nil,
	)
	require.NoError(err)
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, string(body))

	var slots []models.SlotInfo
	require.NoError(json.Unmarshal(body, &slots))
	require.Len(slots, 20)
	require.Equal(models.SlotInfo{Slot: 5, CompositeID: "PROJ1-ESP5", Available: false}, slots[4])
	require.True(slots[5].Available)
}

func (suite *HandlerTestSuite) TestDeleteProject() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")
	suite.registerDevice(project.Code, 1)

	_, res, err := suite.ServeRequest(
		http.MethodDelete,
		"/:code", "/"+project.Code,
		suite.api.DeleteProject, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodDelete,
		"/:code", "/"+project.Code,
		suite.api.DeleteProject, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodGet,
		"/:composite_id", "/PROJ1-ESP1",
		suite.api.GetDevice, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}
