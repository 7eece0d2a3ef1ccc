package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/nkepah/greenhouse-controller/internal/telemetry"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"amps": func(a float64) string {
		return fmt.Sprintf("%.2f A", a)
	},
	"celsius": func(c float64) string {
		return fmt.Sprintf("%.1f °C", c)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Greenhouse Controller</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.bad { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Greenhouse Controller</h1>

<h2>Channels</h2>
<table>
<tr><th>Channel</th><th>State</th><th>Current</th><th>Health</th></tr>
{{range .Channels}}<tr>
<td>{{.Channel}}</td>
<td class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}</td>
<td>{{amps .Amps}}</td>
<td class="{{if .Healthy}}on{{else}}bad{{end}}">{{if .Healthy}}ok{{else}}no current{{end}}</td>
</tr>{{end}}
<tr>
<td>fan</td>
<td class="{{if .FanOn}}on{{else}}off{{end}}">{{if .FanOn}}ON{{else}}OFF{{end}}</td>
<td>{{amps .FanAmps}}</td>
<td class="{{if .FanHealthy}}on{{else}}bad{{end}}">{{if .FanHealthy}}ok{{else}}no current{{end}}</td>
</tr>
</table>

<h2>Readings</h2>
<table>
<tr><th>Main line</th><td>{{amps .TotalAmps}}</td></tr>
<tr><th>Temperature</th><td>{{celsius .Temperature}}</td></tr>
<tr><th>Forecast</th><td>{{celsius .WeatherTemp}}</td></tr>
<tr><th>Amp threshold</th><td>{{amps .AmpThreshold}}</td></tr>
<tr><th>Sensor</th><td>{{if .Calibration.Calibrated}}calibrated (floor {{amps .Calibration.NoiseFloor}}){{else}}uncalibrated{{end}}</td></tr>
</table>

{{if .Runs}}<h2>Routines</h2>
<table>
<tr><th>Routine</th><th>Step</th><th>Status</th></tr>
{{range .Runs}}<tr><td>{{.RoutineName}}</td><td>{{.Step}}/{{.TotalSteps}}</td><td>{{.Status}}</td></tr>{{end}}
</table>{{end}}

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sensor poll</th><td>{{.Config.SensorPollMs}}ms</td></tr>
<tr><th>Routine tick</th><td>{{.Config.RoutineTickMs}}ms</td></tr>
<tr><th>Trigger poll</th><td>{{.Config.TriggerPollMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/status.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap telemetry.Snapshot) {
	// Snapshot has Uptime() method but the template needs a Duration field.
	data := struct {
		telemetry.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
