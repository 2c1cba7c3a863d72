package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/brew-controller/internal/status"
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
	"phaseClass": func(p status.Phase) string {
		switch p {
		case status.PhaseBrewing, status.PhaseHoming:
			return "active"
		case status.PhaseFault:
			return "fault"
		default:
			return "idle"
		}
	},
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Brew Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.idle { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Brew Controller<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>Phase</th><td id="phase" class="{{phaseClass .Phase}}">{{.Phase}}</td></tr>
<tr><th>Brews</th><td id="brews">{{.Brews}}</td></tr>
<tr><th>Last result</th><td id="last-result">{{if .LastResult}}{{.LastResult}}{{else}}none{{end}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="fault">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Brew</h2>
<table>
{{if .Brew.Profile}}<tr><th>Profile</th><td id="profile">{{.Brew.Profile}}</td></tr>
<tr><th>Shot</th><td>{{if .Brew.ShotID}}<a href="/shots/{{.Brew.ShotID}}">{{.Brew.ShotID}}</a>{{end}}</td></tr>
<tr><th>Tick</th><td id="tick">{{.Brew.Tick}} / {{.Brew.Ticks}}</td></tr>
<tr><th>Elapsed</th><td id="elapsed">{{seconds .Brew.Elapsed}}</td></tr>
<tr><th>Target</th><td id="target">{{printf "%.2f" .Brew.Target}} bar</td></tr>
<tr><th>Pressure</th><td id="pressure">{{.Brew.Pressure}} bar</td></tr>
<tr><th>Temperature</th><td id="temperature">{{.Brew.Temperature}} &deg;C</td></tr>
<tr><th>Pump speed</th><td id="speed">{{printf "%.1f" .Brew.Speed}}</td></tr>
<tr><th>Faults</th><td id="faults">{{.Brew.Faults}}</td></tr>
<tr><th>Overruns</th><td id="overruns">{{.Brew.Overruns}}</td></tr>
{{else}}<tr><th>Profile</th><td id="profile">none yet</td></tr>{{end}}
</table>

<h2>Pump</h2>
<table>
<tr><th>Enabled</th><td id="pump-enabled">{{if .Actuator.Enabled}}yes{{else}}no{{end}}</td></tr>
<tr><th>Frequency</th><td id="pump-hz">{{.Actuator.FrequencyHz}} Hz</td></tr>
<tr><th>Direction</th><td id="pump-dir">{{.Actuator.Direction}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Sensor port</th><td>{{.Config.SerialPort}}</td></tr>
<tr><th>Shot store</th><td>{{.Config.StorePath}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/shots">Shots</a> | <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function set(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

  function reading(v) {
    return v === null ? "absent" : v.toFixed(2);
  }

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
        var phase = document.getElementById("phase");
        phase.textContent = s.phase;
        phase.className = s.phase === "FAULT" ? "fault" : (s.phase === "BREWING" || s.phase === "HOMING") ? "active" : "idle";
        set("brews", s.brews);
        set("last-result", s.last_result || "none");
        set("pump-enabled", s.pump.enabled ? "yes" : "no");
        set("pump-hz", s.pump.frequency_hz + " Hz");
        set("pump-dir", s.pump.direction);
        if (s.brew) {
          set("profile", s.brew.profile);
          set("tick", s.brew.tick + " / " + s.brew.ticks);
          set("elapsed", (s.brew.elapsed_ms / 1000).toFixed(1) + "s");
          set("target", s.brew.target_bar.toFixed(2) + " bar");
          set("pressure", reading(s.brew.pressure_bar) + " bar");
          set("temperature", reading(s.brew.temperature_c) + " °C");
          set("speed", s.brew.speed.toFixed(1));
          set("faults", s.brew.faults);
          set("overruns", s.brew.overruns);
        }
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
	// Snapshot has an Uptime method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
