package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/motor-valve/internal/logic"
	"github.com/sweeney/motor-valve/internal/status"
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
	"statusClass": func(v logic.Snapshot) string {
		switch v.Phase {
		case logic.PhaseCalibrating:
			return "calibrating"
		case logic.PhaseOperating:
			return "moving"
		}
		return "idle"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Motor Valves</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
form { display: inline; }
.idle { color: #333; }
.moving { color: green; font-weight: bold; }
.calibrating { color: orange; font-weight: bold; }
.fault { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Motor Valves</h1>

<h2>Valves</h2>
<table>
<tr><th>Name</th><th>Status</th><th>Angle</th><th>Target</th><th>Range</th><th></th></tr>
{{range .Valves}}<tr>
<td><a href="/valves/{{.Label}}">{{.Label}}</a></td>
<td class="{{statusClass .}}">{{.Status}}{{if .WriteFaults}} <span class="fault">({{.WriteFaults}} faults)</span>{{end}}</td>
<td>{{.CurrentAngle}}</td>
<td>{{.TargetAngle}}</td>
<td>{{.StartAngle}}-{{.MaxAngle}}</td>
<td>{{$name := .Label}}{{range $action := $.Actions}}<form method="post" action="/valves/{{$name}}/{{$action}}"><button>{{$action}}</button></form> {{end}}</td>
</tr>
{{else}}<tr><td colspan="6">no valves</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
{{with .Network}}<tr><th>Network</th><td>{{.Type}} {{.Status}}</td></tr>
<tr><th>IP</th><td>{{.IP}}{{if .Gateway}} via {{.Gateway}}{{end}}</td></tr>
{{if .SSID}}<tr><th>WiFi</th><td>{{.SSID}} ({{.WifiStatus}})</td></tr>
{{end}}{{end}}</table>

<h2>Counts</h2>
<table>
<tr><th>Commands</th><td>{{.Counts.Commands}}</td></tr>
<tr><th>Rejected</th><td>{{.Counts.Rejected}}</td></tr>
<tr><th>Events</th><td>{{.Counts.Events}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Calibration</th><td>{{if eq .Config.CalibrationInterval 0}}manual{{else}}every {{.Config.CalibrationInterval}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

// indexActions are the buttons rendered for every valve.
var indexActions = []string{"open", "halfopen", "close", "calibrate"}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Actions []string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Actions:  indexActions,
	}
	indexTmpl.Execute(w, data)
}
