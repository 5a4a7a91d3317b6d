package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/fermenter/internal/control"
	"github.com/sweeney/fermenter/internal/status"
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
		return fmt.Sprintf("%.2f°C", v)
	},
	"stateClass": func(s control.State) string {
		return strings.ToLower(string(s))
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Fermenter</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.cooling { color: #06c; font-weight: bold; }
.heating { color: #c60; font-weight: bold; }
.neutral { color: green; }
.stopped { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Fermenter<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Control</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Compressor</th><td id="relay">{{if .RelayOn}}ON{{else}}OFF{{end}} ({{uptime .RelayElapsed}})</td></tr>
<tr><th>Beer setpoint</th><td id="beer-setpoint">{{celsius .Setpoint}}</td></tr>
<tr><th>Fridge setpoint</th><td id="fridge-setpoint">{{celsius .FridgeSetpoint}}</td></tr>
<tr><th>Hysteresis</th><td>{{celsius .Hysteresis}}</td></tr>
</table>

<form method="post" action="/setpoint">
<label for="beer_setpoint">New beer setpoint</label>
<input type="number" step="0.1" min="-10" max="40" id="beer_setpoint" name="beer_setpoint" value="{{printf "%.1f" .Setpoint}}">
<button type="submit">Set</button>
</form>

<h2>Temperatures</h2>
<table>
<tr><th>Beer</th><td id="beer">{{celsius .Beer}}</td></tr>
<tr><th>Fridge</th><td id="fridge">{{celsius .Fridge}}</td></tr>
{{if .Gravity}}<tr><th>Gravity</th><td id="gravity">{{printf "%.3f" .Gravity}}</td></tr>{{end}}
{{if .SensorError}}<tr><th>Sensor</th><td class="error">{{.SensorError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Cooling starts</th><td>{{.Counts.CoolingStarts}}</td></tr>
<tr><th>Cooling stops</th><td>{{.Counts.CoolingStops}}</td></tr>
<tr><th>Skipped ticks</th><td>{{.Counts.SkippedTicks}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Min off / on</th><td>{{.Config.MinOffTimeMs}}ms / {{.Config.MinOnTimeMs}}ms</td></tr>
<tr><th>Sensors</th><td>{{.Config.FridgeSensor}} / {{.Config.BeerSensor}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function setText(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }
  function c(v) { return v.toFixed(2) + "°C"; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        var st = document.getElementById("state");
        st.textContent = s.state;
        st.className = s.state.toLowerCase();
        setText("relay", s.relay.on ? "ON" : "OFF");
        setText("beer", c(s.temperatures.beer));
        setText("fridge", c(s.temperatures.fridge));
        setText("beer-setpoint", c(s.temperatures.beer_setpoint));
        setText("fridge-setpoint", c(s.temperatures.fridge_setpoint));
        if (s.gravity) { setText("gravity", s.gravity.toFixed(3)); }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
