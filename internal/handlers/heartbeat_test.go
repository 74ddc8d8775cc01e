package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/greenhouse-io/greenhouse/internal/models"
)

func (suite *HandlerTestSuite) sendHeartbeat(request any) (int, []byte) {
	require := suite.Require()
	reqBody, err := json.Marshal(request)
	require.NoError(err)
	_, res, err := suite.ServeRequest(
		http.MethodPost,
		"/", "/",
		suite.api.Heartbeat, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	return res.Code, body
}

func (suite *HandlerTestSuite) TestHeartbeat() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")
	registration := suite.registerDevice(project.Code, 5)

	version := "v3.2.0"
	status, body := suite.sendHeartbeat(models.HeartbeatRequest{
		DeviceID:  registration.CompositeID,
		Secret:    registration.Secret,
		Telemetry: models.Telemetry{FirmwareVersion: &version},
	})
	require.Equal(http.StatusOK, status, string(body))

	var response models.HeartbeatResponse
	require.NoError(json.Unmarshal(body, &response))
	require.Equal("PROJ1-ESP5", response.DeviceID)
	require.Equal(models.DeviceStateOnline, response.State)
	require.False(response.ServerTime.IsZero())

	var device models.Device
	require.NoError(suite.api.db.First(&device, "id = ?", registration.Device.ID).Error)
	require.Equal(models.DeviceStateOnline, device.State)
	require.Equal("v3.2.0", device.FirmwareVersion)
}

func (suite *HandlerTestSuite) TestHeartbeatRejections() {
	require := suite.Require()
	project := suite.createProject("Greenhouse A")
	registration := suite.registerDevice(project.Code, 5)

	status, body := suite.sendHeartbeat(map[string]string{"secret": registration.Secret})
	require.Equal(http.StatusBadRequest, status, string(body))
	require.JSONEq(`{"error":"field not present","field":"device_id"}`, string(body))

	status, body = suite.sendHeartbeat(models.HeartbeatRequest{DeviceID: "ESP5", Secret: registration.Secret})
	require.Equal(http.StatusBadRequest, status, string(body))
	require.JSONEq(`{"error":"malformed device identifier","field":"device_id"}`, string(body))

	status, body = suite.sendHeartbeat(models.HeartbeatRequest{DeviceID: "PROJ1-ESP6", Secret: registration.Secret})
	require.Equal(http.StatusNotFound, status, string(body))

	status, body = suite.sendHeartbeat(models.HeartbeatRequest{DeviceID: registration.CompositeID, Secret: "not-the-secret"})
	require.Equal(http.StatusUnauthorized, status, string(body))
	require.JSONEq(`{"error":"device credentials rejected"}`, string(body))

	var device models.Device
	require.NoError(suite.api.db.First(&device, "id = ?", registration.Device.ID).Error)
	require.Equal(models.DeviceStateWaiting, device.State)
}
