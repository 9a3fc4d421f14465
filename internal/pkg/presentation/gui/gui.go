package gui

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/devices"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/readings"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/api/auth"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var tracer = otel.Tracer("smarthome-monitor/gui")

var dashboard = template.Must(template.New("dashboard.html").Parse(dashboardTemplate))

// NewDashboardHandler renders the devices and latest alerts of the caller.
// Browsers authenticate with the access_token query parameter.
func NewDashboardHandler(log zerolog.Logger, deviceSvc devices.DeviceService, readingSvc readings.ReadingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "dashboard")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		owner, ok := auth.GetUserFromContext(ctx)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		items, err := deviceSvc.List(ctx, owner)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch devices")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		alerts, err := readingSvc.Alerts(ctx, owner)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to fetch alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		data := struct {
			Title  string
			Items  []types.Device
			Alerts []types.SensorReading
		}{
			Title:  "Devices",
			Items:  items,
			Alerts: alerts,
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if err = dashboard.Execute(w, data); err != nil {
			requestLogger.Error().Err(err).Msg("failed to render dashboard")
		}
	}
}

const dashboardTemplate string = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<table>
<tr><th>Name</th><th>Type</th><th>Location</th><th>Status</th></tr>
{{range .Items}}<tr><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Location}}</td><td>{{if .Online}}online{{else}}offline{{end}}</td></tr>
{{end}}</table>
<h2>Alerts</h2>
<ul>
{{range .Alerts}}<li>{{.Timestamp}} {{.DeviceName}}: {{.AlertMessage}}</li>
{{else}}<li>No alerts</li>
{{end}}</ul>
</body>
</html>
`
