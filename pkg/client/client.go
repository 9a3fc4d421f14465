package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"

	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrUnauthorized = fmt.Errorf("unauthorized")
var ErrBadRequest = fmt.Errorf("bad request")

// tokenLifetime matches the lifetime of tokens issued by the server.
const tokenLifetime = time.Hour

//go:generate moq -rm -out client_mock.go . SmartHomeClient

type SmartHomeClient interface {
	Login(ctx context.Context, username, password string) (types.LoginResponse, error)
	Token() string

	Devices(ctx context.Context) ([]types.Device, error)
	SubmitReading(ctx context.Context, reading types.SensorReading) (types.SensorReading, error)
	Simulate(ctx context.Context) ([]types.SensorReading, error)
	LatestReading(ctx context.Context, deviceID uint) (types.SensorReading, error)

	// Hub returns a websocket hub for the logged in user.
	Hub() Hub
}

type smartHomeClient struct {
	url        string
	anonymous  http.Client
	authorized http.Client

	mu    sync.RWMutex
	token *oauth2.Token
}

var tracer = otel.Tracer("smarthome-monitor-client")

func NewSmartHomeClient(url string) SmartHomeClient {
	c := &smartHomeClient{
		url: strings.TrimSuffix(url, "/"),
		anonymous: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	c.authorized = http.Client{
		Transport: &oauth2.Transport{
			Source: tokenSourceFunc(c.tokenSource),
			Base:   otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	return c
}

// NewSmartHomeClientWithToken creates a client that uses an already issued
// access token instead of logging in.
func NewSmartHomeClientWithToken(url, accessToken string) SmartHomeClient {
	c := NewSmartHomeClient(url).(*smartHomeClient)
	c.token = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	return c
}

func (c *smartHomeClient) Login(ctx context.Context, username, password string) (types.LoginResponse, error) {
	var err error
	ctx, span := tracer.Start(ctx, "login")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	response := types.LoginResponse{}
	err = c.do(ctx, &c.anonymous, http.MethodPost, "/api/v0/auth/login", types.LoginRequest{Username: username, Password: password}, &response)
	if err != nil {
		return types.LoginResponse{}, err
	}

	c.mu.Lock()
	c.token = &oauth2.Token{
		AccessToken: response.Token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(tokenLifetime),
	}
	c.mu.Unlock()

	return response, nil
}

func (c *smartHomeClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// tokenSource feeds the oauth2 transport. The server does not refresh
// tokens, so an expired login has to be repeated.
func (c *smartHomeClient) tokenSource() (*oauth2.Token, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == nil || !c.token.Valid() {
		return nil, ErrUnauthorized
	}
	return c.token, nil
}

func (c *smartHomeClient) Devices(ctx context.Context) ([]types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-devices")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	devices := []types.Device{}
	err = c.do(ctx, &c.authorized, http.MethodGet, "/api/v0/devices", nil, &devices)
	return devices, err
}

func (c *smartHomeClient) SubmitReading(ctx context.Context, reading types.SensorReading) (types.SensorReading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "submit-reading")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	saved := types.SensorReading{}
	err = c.do(ctx, &c.authorized, http.MethodPost, "/api/v0/sensors", reading, &saved)
	return saved, err
}

func (c *smartHomeClient) Simulate(ctx context.Context) ([]types.SensorReading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "simulate")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	result := types.SimulationResult{}
	err = c.do(ctx, &c.authorized, http.MethodPost, "/api/v0/sensors/simulate", nil, &result)
	return result.Data, err
}

func (c *smartHomeClient) LatestReading(ctx context.Context, deviceID uint) (types.SensorReading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-latest-reading")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	latest := types.SensorReading{}
	err = c.do(ctx, &c.authorized, http.MethodGet, "/api/v0/sensors/latest/"+strconv.FormatUint(uint64(deviceID), 10), nil, &latest)
	return latest, err
}

func (c *smartHomeClient) Hub() Hub {
	url := "ws" + strings.TrimPrefix(c.url, "http") + "/api/v0/hub"
	return NewHub(url, c.Token)
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) {
	return f()
}

func (c *smartHomeClient) do(ctx context.Context, httpClient *http.Client, method, path string, body, result any) error {
	log := logging.GetLoggerFromContext(ctx)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, string(respBody))
	case resp.StatusCode >= http.StatusMultipleChoices:
		log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("request failed")
		return fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	if err = json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}
