package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/greenhouse-io/greenhouse/internal/models"
)

func (suite *HandlerTestSuite) TestRegisterDevice() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")

	registration := suite.registerDevice(project.Code, 5)
	require.Equal("PROJ1-ESP5", registration.CompositeID)
	require.Regexp(`^[0-9a-f]{64}$`, registration.Secret)
	require.Equal(models.DeviceStateWaiting, registration.Device.State)
	require.Equal("Tomatoes", registration.Device.DisplayName)

	for _, tc := range []struct {
		uri    string
		body   string
		status int
	}{
		{"/" + project.Code + "/devices", `{"slot": 5}`, http.StatusConflict},
		{"/" + project.Code + "/devices", `{"slot": 21}`, http.StatusBadRequest},
		{"/" + project.Code + "/devices", `{}`, http.StatusBadRequest},
		{"/" + project.Code + "/devices", `{"slot": "five"}`, http.StatusBadRequest},
		{"/PROJ9/devices", `{"slot": 1}`, http.StatusNotFound},
		{"/PROJ09/devices", `{"slot": 1}`, http.StatusNotFound},
	} {
		_, res, err := suite.ServeRequest(
			http.MethodPost,
			"/:code/devices", tc.uri,
			suite.api.RegisterDevice, bytes.NewBufferString(tc.body),
		)
		require.NoError(err)
		require.Equal(tc.status, res.Code, "%s %s: %s", tc.uri, tc.body, res.Body.String())
	}

	// the secret is never returned again
	_, res, err := suite.ServeRequest(
		http.MethodGet,
		"/:composite_id", "/"+registration.CompositeID,
		suite.api.GetDevice, nil,
	)
	require.NoError(err)
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, string(body))
	require.NotContains(string(body), registration.Secret)

	var device models.Device
	require.NoError(json.Unmarshal(body, &device))
	require.Equal(registration.Device.ID, device.ID)
	require.Equal(5, *device.Slot)
}

func (suite *HandlerTestSuite) TestListProjectDevices() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")
	suite.registerDevice(project.Code, 7)
	suite.registerDevice(project.Code, 2)

	_, res, err := suite.ServeRequest(
		http.MethodGet,
		"/:code/devices", "/"+project.Code+"/devices",
		suite.api.ListProjectDevices, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var devices []models.Device
	require.NoError(json.Unmarshal(res.Body.Bytes(), &devices))
	require.Len(devices, 2)
	require.Equal("PROJ1-ESP2", devices[0].Composite())
	require.Equal("PROJ1-ESP7", devices[1].Composite())

	suite.userID = OtherUserID
	_, res, err = suite.ServeRequest(
		http.MethodGet,
		"/:code/devices", "/"+project.Code+"/devices",
		suite.api.ListProjectDevices, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestDeleteDevice() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")
	registration := suite.registerDevice(project.Code, 3)

	for _, tc := range []struct {
		uri    string
		status int
	}{
		{"/PROJ1-ESP33", http.StatusBadRequest},
		{"/PROJ1-ESP4", http.StatusNotFound},
		{"/" + registration.CompositeID, http.StatusNoContent},
		{"/" + registration.CompositeID, http.StatusNotFound},
	} {
		_, res, err := suite.ServeRequest(
			http.MethodDelete,
			"/:composite_id", tc.uri,
			suite.api.DeleteDevice, nil,
		)
		require.NoError(err)
		require.Equal(tc.status, res.Code, tc.uri)
	}

	again := suite.registerDevice(project.Code, 3)
	require.Equal(registration.CompositeID, again.CompositeID)
}
