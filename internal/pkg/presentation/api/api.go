package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/diwise/smarthome-monitor/internal/pkg/application"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/devices"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/readings"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/users"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/api/auth"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/gui"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/hub"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var tracer = otel.Tracer("smarthome-monitor/api")

var validate = validator.New()

var errMissingUser = fmt.Errorf("no user in request context")
var errBadRequest = fmt.Errorf("bad request")

func RegisterHandlers(ctx context.Context, log zerolog.Logger, router *chi.Mux, policies io.Reader, tokens *auth.TokenAuth, app application.App) (*chi.Mux, error) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Handle valid / invalid tokens.
	authenticator, err := auth.NewAuthenticator(ctx, log, tokens, policies)
	if err != nil {
		return nil, fmt.Errorf("failed to create api authenticator: %w", err)
	}

	router.Route("/api/v0", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", registerHandler(log, app.Users()))
			r.Post("/login", loginHandler(log, app.Users()))
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticator)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", listDevicesHandler(log, app.Devices()))
				r.Post("/", createDeviceHandler(log, app.Devices()))
				r.Get("/{deviceID}", getDeviceHandler(log, app.Devices()))
				r.Put("/{deviceID}", updateDeviceHandler(log, app.Devices()))
				r.Delete("/{deviceID}", deleteDeviceHandler(log, app.Devices()))
				r.Post("/{deviceID}/toggle", toggleDeviceHandler(log, app.Devices()))
			})

			r.Route("/control", func(r chi.Router) {
				r.Post("/light/{deviceID}", controlLightHandler(log, app.Devices()))
				r.Post("/thermostat/{deviceID}", controlThermostatHandler(log, app.Devices()))
				r.Post("/door/{deviceID}", controlDoorHandler(log, app.Devices()))
			})

			r.Route("/sensors", func(r chi.Router) {
				r.Get("/", recentReadingsHandler(log, app.Readings()))
				r.Post("/", submitReadingHandler(log, app.Readings()))
				r.Post("/simulate", simulateHandler(log, app.Readings()))
				r.Get("/alerts", alertsHandler(log, app.Readings()))
				r.Get("/latest/{deviceID}", latestReadingHandler(log, app.Readings()))
				r.Get("/history/{deviceID}", historyHandler(log, app.Readings()))
				r.Get("/{deviceID}", deviceReadingsHandler(log, app.Readings()))
			})

			r.Post("/security/alerts", securityAlertHandler(log, app.Devices()))

			r.Get("/hub", hub.NewHandler(log, app.Registry()))
			r.Get("/events", app.WebEvents().ServeHTTP)
			r.Get("/dashboard", gui.NewDashboardHandler(log, app.Devices(), app.Readings()))
		})
	})

	return router, nil
}

func registerHandler(log zerolog.Logger, svc users.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "register-user")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := types.RegisterRequest{}
		if err = decodeBody(r, &req); err != nil {
			requestLogger.Error().Err(err).Msg("unable to decode body")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := svc.Register(ctx, req)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to register user")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, user)
	}
}

func loginHandler(log zerolog.Logger, svc users.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "login")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := types.LoginRequest{}
		if err = decodeBody(r, &req); err != nil {
			requestLogger.Error().Err(err).Msg("unable to decode body")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		response, err := svc.Login(ctx, req)
		if err != nil {
			requestLogger.Info().Err(err).Str("username", req.Username).Msg("login failed")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func listDevicesHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-devices")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errMissingUser
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		result, err := svc.List(ctx, owner)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch devices")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func getDeviceHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		device, err := svc.Get(ctx, owner, deviceID)
		if err != nil {
			requestLogger.Debug().Err(err).Uint("deviceID", deviceID).Msg("unable to fetch device")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func createDeviceHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errMissingUser
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		d := types.Device{}
		if err = decodeBody(r, &d); err != nil {
			requestLogger.Error().Err(err).Msg("unable to decode body")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		created, err := svc.Create(ctx, owner, d)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create device")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func updateDeviceHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "update-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		d := types.Device{}
		if err = decodeBody(r, &d); err != nil {
			requestLogger.Error().Err(err).Msg("unable to decode body")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		updated, err := svc.Update(ctx, owner, deviceID, d)
		if err != nil {
			requestLogger.Error().Err(err).Uint("deviceID", deviceID).Msg("unable to update device")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteDeviceHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "delete-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		if err = svc.Delete(ctx, owner, deviceID); err != nil {
			requestLogger.Error().Err(err).Uint("deviceID", deviceID).Msg("unable to delete device")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func toggleDeviceHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "toggle-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		device, err := svc.Toggle(ctx, owner, deviceID)
		if err != nil {
			requestLogger.Error().Err(err).Uint("deviceID", deviceID).Msg("unable to toggle device")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func controlLightHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return commandHandler(log, "control-light", func(ctx context.Context, owner string, deviceID uint, body []byte) (string, error) {
		cmd := types.DeviceCommand{}
		if err := json.Unmarshal(body, &cmd); err != nil {
			return "", fmt.Errorf("%w: %s", errBadRequest, err.Error())
		}
		return svc.ControlLight(ctx, owner, deviceID, cmd)
	})
}

func controlThermostatHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return commandHandler(log, "control-thermostat", func(ctx context.Context, owner string, deviceID uint, body []byte) (string, error) {
		cmd := types.ThermostatCommand{}
		if err := json.Unmarshal(body, &cmd); err != nil {
			return "", fmt.Errorf("%w: %s", errBadRequest, err.Error())
		}
		return svc.ControlThermostat(ctx, owner, deviceID, cmd)
	})
}

func controlDoorHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return commandHandler(log, "control-door", func(ctx context.Context, owner string, deviceID uint, body []byte) (string, error) {
		cmd := types.DeviceCommand{}
		if err := json.Unmarshal(body, &cmd); err != nil {
			return "", fmt.Errorf("%w: %s", errBadRequest, err.Error())
		}
		return svc.ControlDoor(ctx, owner, deviceID, cmd)
	})
}

type commandFunc func(ctx context.Context, owner string, deviceID uint, body []byte) (string, error)

func commandHandler(log zerolog.Logger, name string, command commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		message, err := command(ctx, owner, deviceID, body)
		if err != nil {
			requestLogger.Info().Err(err).Uint("deviceID", deviceID).Msg("command rejected")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, types.CommandResult{Message: message})
	}
}

func recentReadingsHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "recent-readings")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errMissingUser
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		result, err := svc.Recent(ctx, owner)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch readings")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func alertsHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "recent-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errMissingUser
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		result, err := svc.Alerts(ctx, owner)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch alerts")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func deviceReadingsHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "device-readings")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		result, err := svc.ForDevice(ctx, owner, deviceID)
		if err != nil {
			requestLogger.Debug().Err(err).Uint("deviceID", deviceID).Msg("unable to fetch readings")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func latestReadingHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "latest-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		latest, err := svc.Latest(ctx, owner, deviceID)
		if err != nil {
			requestLogger.Debug().Err(err).Uint("deviceID", deviceID).Msg("no latest reading")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, latest)
	}
}

func historyHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "reading-history")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, deviceID, err := ownerAndDevice(ctx, r)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		start, err := parseDate(r.URL.Query().Get("startDate"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		end, err := parseDate(r.URL.Query().Get("endDate"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := svc.History(ctx, owner, deviceID, start, end)
		if err != nil {
			requestLogger.Debug().Err(err).Uint("deviceID", deviceID).Msg("unable to fetch history")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func submitReadingHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "submit-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errMissingUser
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		reading := types.SensorReading{}
		if err = decodeBody(r, &reading); err != nil {
			requestLogger.Error().Err(err).Msg("unable to decode body")
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		saved, err := svc.Submit(ctx, owner, reading)
		if err != nil {
			requestLogger.Error().Err(err).Uint("deviceID", reading.DeviceID).Msg("unable to store reading")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, saved)
	}
}

func simulateHandler(log zerolog.Logger, svc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "simulate")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			err = errMissingUser
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		created, err := svc.Simulate(ctx, owner)
		if err != nil {
			requestLogger.Error().Err(err).Msg("simulation failed")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, types.SimulationResult{
			Message: "Sensor data simulated successfully",
			Data:    created,
		})
	}
}

func securityAlertHandler(log zerolog.Logger, svc devices.DeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "security-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := types.SecurityAlertRequest{}
		if err = decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err = validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err = svc.RaiseSecurityAlert(ctx, req.Location, req.Details); err != nil {
			requestLogger.Error().Err(err).Msg("unable to raise security alert")
			writeError(w, statusFromError(err), err.Error())
			return
		}

		requestLogger.Info().Str("location", req.Location).Msg("security alert raised")

		writeJSON(w, http.StatusOK, types.CommandResult{Message: "Security alert sent"})
	}
}

func ownerAndDevice(ctx context.Context, r *http.Request) (string, uint, error) {
	owner, ok := auth.GetUserFromContext(ctx)
	if !ok {
		return "", 0, errMissingUser
	}

	id, err := strconv.ParseUint(chi.URLParam(r, "deviceID"), 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid device id", errBadRequest)
	}

	return owner, uint(id), nil
}

// parseDate accepts RFC3339 timestamps or plain dates. An empty value means
// no bound.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}

	return nil, fmt.Errorf("invalid date %q", value)
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, errMissingUser), errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, devices.ErrDeviceNotFound),
		errors.Is(err, readings.ErrDeviceNotFound),
		errors.Is(err, readings.ErrNoReadings):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, devices.ErrInvalidDevice),
		errors.Is(err, devices.ErrInvalidCommand),
		errors.Is(err, readings.ErrInvalidReading),
		errors.Is(err, readings.ErrInvalidRange),
		errors.Is(err, users.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrUserAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
