package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/diwise/smarthome-monitor/internal/pkg/application"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/router"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/api/auth"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

func TestHealthHandler(t *testing.T) {
	is, server := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/health", "", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestRegisterAndLogin(t *testing.T) {
	is, server := setupTest(t)

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/auth/register", "", strings.NewReader(`{"username":"alice","email":"alice@example.com","password":"secret123"}`))
	is.Equal(resp.StatusCode, http.StatusCreated)
	is.True(!strings.Contains(body, "secret123"))

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/auth/register", "", strings.NewReader(`{"username":"alice","email":"other@example.com","password":"secret123"}`))
	is.Equal(resp.StatusCode, http.StatusConflict)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/auth/register", "", strings.NewReader(`{"username":"al","email":"not-an-email","password":"1"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/auth/login", "", strings.NewReader(`{"username":"alice","password":"wrong-password"}`))
	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	resp, body = testRequest(is, server, http.MethodPost, "/api/v0/auth/login", "", strings.NewReader(`{"username":"alice","password":"secret123"}`))
	is.Equal(resp.StatusCode, http.StatusOK)

	login := types.LoginResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &login))
	is.True(login.Token != "")
	is.Equal(login.Username, "alice")
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	is, server := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/api/v0/devices", "", nil)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	resp, _ = testRequest(is, server, http.MethodGet, "/api/v0/devices", "not-a-token", nil)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)
}

func TestSimulateCreatesStarterDevicesAndReadings(t *testing.T) {
	is, server := setupTest(t)
	token := registerAndLogin(is, server, "alice")

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/sensors/simulate", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	result := types.SimulationResult{}
	is.NoErr(json.Unmarshal([]byte(body), &result))
	is.Equal(len(result.Data), 3)

	resp, body = testRequest(is, server, http.MethodGet, "/api/v0/devices", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	devices := []types.Device{}
	is.NoErr(json.Unmarshal([]byte(body), &devices))
	is.Equal(len(devices), 3)

	resp, body = testRequest(is, server, http.MethodGet, "/api/v0/sensors", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	readings := []types.SensorReading{}
	is.NoErr(json.Unmarshal([]byte(body), &readings))
	is.Equal(len(readings), 3)
	is.True(readings[0].DeviceName != "")

	resp, _ = testRequest(is, server, http.MethodGet, "/api/v0/sensors/latest/"+itoa(devices[0].ID), token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
}

func TestDevicesOfOtherUsersAreNotFound(t *testing.T) {
	is, server := setupTest(t)
	alice := registerAndLogin(is, server, "alice")
	bob := registerAndLogin(is, server, "bob")

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/devices", alice, strings.NewReader(`{"name":"Hall Light","type":"Light","location":"Hall"}`))
	is.Equal(resp.StatusCode, http.StatusCreated)

	device := types.Device{}
	is.NoErr(json.Unmarshal([]byte(body), &device))
	id := itoa(device.ID)

	for _, path := range []string{"/api/v0/devices/" + id, "/api/v0/sensors/" + id, "/api/v0/sensors/latest/" + id} {
		resp, _ = testRequest(is, server, http.MethodGet, path, bob, nil)
		is.Equal(resp.StatusCode, http.StatusNotFound)
	}

	resp, _ = testRequest(is, server, http.MethodDelete, "/api/v0/devices/"+id, bob, nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/sensors", bob, strings.NewReader(`{"deviceId":`+id+`,"type":"Light","value":"on"}`))
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = testRequest(is, server, http.MethodGet, "/api/v0/sensors/latest/"+id, alice, nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = testRequest(is, server, http.MethodDelete, "/api/v0/devices/"+id, alice, nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestDeviceCommands(t *testing.T) {
	is, server := setupTest(t)
	token := registerAndLogin(is, server, "alice")

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/devices", token, strings.NewReader(`{"name":"Front Door","type":"Door","location":"Entrance"}`))
	is.Equal(resp.StatusCode, http.StatusCreated)

	door := types.Device{}
	is.NoErr(json.Unmarshal([]byte(body), &door))

	resp, body = testRequest(is, server, http.MethodPost, "/api/v0/control/door/"+itoa(door.ID), token, strings.NewReader(`{"command":"unlock"}`))
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, "Door Front Door unlocked"))

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/control/door/"+itoa(door.ID), token, strings.NewReader(`{"command":"open"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/control/light/"+itoa(door.ID), token, strings.NewReader(`{"command":"on"}`))
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/control/thermostat/"+itoa(door.ID), token, strings.NewReader(`{"temperature":50,"mode":"heat"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, body = testRequest(is, server, http.MethodPost, "/api/v0/devices/"+itoa(door.ID)+"/toggle", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `"isOnline":true`))

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/security/alerts", token, strings.NewReader(`{"location":"Garage"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/security/alerts", token, strings.NewReader(`{"location":"Garage","details":"Window opened"}`))
	is.Equal(resp.StatusCode, http.StatusOK)
}

func TestHistoryRejectsInvertedRange(t *testing.T) {
	is, server := setupTest(t)
	token := registerAndLogin(is, server, "alice")

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/devices", token, strings.NewReader(`{"name":"Kitchen Thermostat","type":"Thermostat","location":"Kitchen"}`))
	is.Equal(resp.StatusCode, http.StatusCreated)

	device := types.Device{}
	is.NoErr(json.Unmarshal([]byte(body), &device))
	path := "/api/v0/sensors/history/" + itoa(device.ID)

	resp, _ = testRequest(is, server, http.MethodGet, path+"?startDate=2023-03-02&endDate=2023-03-01", token, nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, server, http.MethodGet, path+"?startDate=yesterday", token, nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, body = testRequest(is, server, http.MethodGet, path+"?startDate=2023-03-01&endDate=2023-03-02", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(body, "[]")
}

func setupTest(t *testing.T) (*is.I, *httptest.Server) {
	is := is.New(t)
	ctx := context.Background()

	store, err := database.New(database.NewSQLiteConnector(zerolog.Nop(), ""))
	is.NoErr(err)

	tokens := auth.NewTokenAuth("test-secret")

	cfg := application.DefaultConfig()
	cfg.Simulation.Enabled = false

	app, err := application.New(zerolog.Nop(), store, tokens, cfg)
	is.NoErr(err)
	t.Cleanup(app.Stop)

	r, err := RegisterHandlers(ctx, zerolog.Nop(), router.New("test"), nil, tokens, app)
	is.NoErr(err)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return is, server
}

func registerAndLogin(is *is.I, server *httptest.Server, username string) string {
	credentials := `{"username":"` + username + `","password":"secret123"}`
	registration := `{"username":"` + username + `","email":"` + username + `@example.com","password":"secret123"}`

	resp, _ := testRequest(is, server, http.MethodPost, "/api/v0/auth/register", "", strings.NewReader(registration))
	is.Equal(resp.StatusCode, http.StatusCreated)

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/auth/login", "", strings.NewReader(credentials))
	is.Equal(resp.StatusCode, http.StatusOK)

	login := types.LoginResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &login))

	return login.Token
}

func testRequest(is *is.I, server *httptest.Server, method, path, token string, body io.Reader) (*http.Response, string) {
	req, _ := http.NewRequest(method, server.URL+path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return resp, string(respBody)
}

func itoa(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
