package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/heater-control/internal/status"
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
	"celsius": func(v float64) string {
		return fmt.Sprintf("%.1f °C", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Heater Control</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
form { display: inline; }
</style>
</head>
<body>
<h1>Heater Control{{if .Config.Simulated}} (simulated){{end}}</h1>

<h2>Control</h2>
<table>
<tr><th>Loop</th><td id="enabled" class="{{if .Enabled}}on{{else}}off{{end}}">{{if .Enabled}}ENABLED{{else}}DISABLED{{end}}</td></tr>
<tr><th>Target</th><td>{{celsius .Target}}</td></tr>
<tr><th>Temperature</th><td id="temperature">{{if .HasReading}}{{celsius .Temperature}}{{else}}<span class="unknown">no reading</span>{{end}}</td></tr>
<tr><th>Power</th><td>{{printf "%.1f" .Power}} %</td></tr>
<tr><th>Heater</th><td id="heater" class="{{if .HeaterOn}}on{{else}}off{{end}}">{{if .HeaterOn}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Water</th><td id="water" class="{{if .WaterPresent}}on{{else}}unknown{{end}}">{{if .WaterPresent}}present{{else}}absent{{end}}</td></tr>
</table>
<p>
<form method="post" action="/heater/enable"><button>Enable</button></form>
<form method="post" action="/heater/disable"><button>Disable</button></form>
</p>

<h2>Connectivity</h2>
<table>
<tr><th>PLC</th><td class="{{if .PLCConnected}}connected{{else}}disconnected{{end}}">{{if .PLCConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Address</th><td>{{.Config.PLCAddress}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Faults</h2>
<table>
<tr><th>Sensor</th><td>{{.Faults.Sensor}}</td></tr>
<tr><th>Interlock</th><td>{{.Faults.Interlock}}</td></tr>
<tr><th>Actuator</th><td>{{.Faults.Actuator}}</td></tr>
<tr><th>Status DB</th><td>{{.Faults.StatusDB}}</td></tr>
<tr><th>Watchdog</th><td>{{.Faults.Watchdog}}</td></tr>
{{if .LastFault}}<tr><th>Last</th><td id="last-fault">{{.LastFaultKind}}: {{.LastFault}} ({{.LastFaultTime.UTC.Format "2006-01-02T15:04:05Z"}})</td></tr>{{end}}
<tr><th>Water lost</th><td>{{.Interlock.Trips}}</td></tr>
<tr><th>Water restored</th><td>{{.Interlock.Restores}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Period</th><td>{{.Config.PeriodMs}}ms</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Cycles</th><td>{{.Cycles}}</td></tr>
{{if .DroppedTicks}}<tr><th>Dropped ticks</th><td>{{.DroppedTicks}}</td></tr>{{end}}
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// uptime takes a Duration, so pass it as a field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
