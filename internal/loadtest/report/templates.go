package report

// htmlTemplate is the report page. Charts are drawn client-side with Chart.js
// from the embedded per-second buckets.
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - taskload run {{.ID}}</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
body { margin: 0; background: #f4f5f7; color: #172b4d; font: 14px/1.5 system-ui, sans-serif; }
main { max-width: 1280px; margin: 0 auto; padding: 24px; }
h1 { margin: 0; font-size: 22px; }
h2 { margin: 0 0 12px; font-size: 15px; color: #42526e; }
.verdict { display: flex; justify-content: space-between; align-items: flex-start; gap: 16px; padding: 20px 24px; border-left: 6px solid #36b37e; background: #fff; margin-bottom: 20px; }
.verdict.failed { border-left-color: #de350b; }
.verdict .run { color: #6b778c; font-size: 13px; }
.verdict .run span + span::before { content: " / "; }
.badges { display: flex; gap: 8px; }
.badge { padding: 4px 12px; border-radius: 3px; font-weight: 700; font-size: 13px; letter-spacing: .04em; }
.badge.passed { background: #e3fcef; color: #006644; }
.badge.failed { background: #ffebe6; color: #bf2600; }
.badge.interrupted { background: #fffae6; color: #974f0c; }
.tiles { display: grid; grid-template-columns: repeat(auto-fill, minmax(160px, 1fr)); gap: 12px; margin-bottom: 20px; }
.tile { background: #fff; padding: 14px 16px; }
.tile b { display: block; font-size: 22px; }
.tile small { color: #6b778c; text-transform: uppercase; font-size: 11px; }
.panel { background: #fff; padding: 16px 20px; margin-bottom: 20px; }
.charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr)); gap: 20px; }
.charts .panel { margin-bottom: 0; }
.plot { position: relative; height: 240px; }
table { width: 100%; border-collapse: collapse; font-size: 13px; }
th { text-align: left; color: #6b778c; font-weight: 600; border-bottom: 2px solid #dfe1e6; padding: 6px 8px; }
td { border-bottom: 1px solid #ebecf0; padding: 6px 8px; }
td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
.ok { color: #006644; }
.ko { color: #bf2600; }
footer { color: #97a0af; font-size: 12px; text-align: center; margin-top: 24px; }
@media print { .panel, .tile, .verdict { break-inside: avoid; } }
</style>
</head>
<body>
<main>
<section class="verdict{{if not .Passed}} failed{{end}}">
  <div>
    <h1>{{.Name}}</h1>
    {{if .Description}}<div>{{.Description}}</div>{{end}}
    <div class="run">
      <span>{{.BaseURL}}</span><span>started {{.StartTime.Format "2006-01-02 15:04:05"}}</span><span>{{formatDuration .Duration}}</span><span>run {{.ID}}</span>
    </div>
  </div>
  <div class="badges">
    {{if .Interrupted}}<span class="badge interrupted">INTERRUPTED</span>{{end}}
    {{if .Passed}}<span class="badge passed">PASSED</span>{{else}}<span class="badge failed">FAILED</span>{{end}}
  </div>
</section>

<section class="tiles">
  <div class="tile"><small>http_reqs</small><b>{{formatNumber .Metrics.TotalRequests}}</b></div>
  <div class="tile"><small>req/s</small><b>{{printf "%.1f" .Metrics.RPS}}</b></div>
  <div class="tile"><small>http_req_failed</small><b>{{percent .Metrics.ErrorRate}}</b></div>
  <div class="tile"><small>p(95) duration</small><b>{{formatLatency .Latency.P95}}</b></div>
  <div class="tile"><small>iterations</small><b>{{formatNumber .Iterations}}</b></div>
  <div class="tile"><small>peak VUs</small><b>{{.MaxVUs}}</b></div>
  <div class="tile"><small>data received</small><b>{{formatBytes .Metrics.TotalBytes}}</b></div>
</section>

{{if .Thresholds}}
<section class="panel">
  <h2>Thresholds</h2>
  <table>
    <tr><th></th><th>Series</th><th>Criterion</th><th class="num">Observed</th></tr>
    {{range .Thresholds}}
    <tr>
      <td class="{{if .Passed}}ok{{else}}ko{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
      <td>{{.Threshold.Metric}}</td>
      <td><code>{{.Threshold.Expression}}</code></td>
      <td class="num">{{actual .}}</td>
    </tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .TimeSeries}}
<section class="charts">
  <div class="panel"><h2>Stage profile: target and live VUs</h2><div class="plot"><canvas id="stageProfile"></canvas></div></div>
  <div class="panel"><h2>Task API traffic per second</h2><div class="plot"><canvas id="apiTraffic"></canvas></div></div>
  <div class="panel"><h2>http_req_duration per second</h2><div class="plot"><canvas id="reqDuration"></canvas></div></div>
  <div class="panel"><h2>http_req_failed per second</h2><div class="plot"><canvas id="reqFailed"></canvas></div></div>
</section>
<br>
{{end}}

{{if .Endpoints}}
<section class="panel">
  <h2>Requests by endpoint</h2>
  <table>
    <tr><th>name</th><th class="num">reqs</th><th class="num">failed</th><th class="num">avg</th><th class="num">min</th><th class="num">med</th><th class="num">p(90)</th><th class="num">p(95)</th><th class="num">max</th></tr>
    {{range .Endpoints}}
    <tr>
      <td>{{.Name}}</td>
      <td class="num">{{formatNumber .Stats.Count}}</td>
      <td class="num">{{percent .Failed.Rate}}</td>
      <td class="num">{{formatLatency .Stats.Avg}}</td>
      <td class="num">{{formatLatency .Stats.Min}}</td>
      <td class="num">{{formatLatency .Stats.Med}}</td>
      <td class="num">{{formatLatency .Stats.P90}}</td>
      <td class="num">{{formatLatency .Stats.P95}}</td>
      <td class="num">{{formatLatency .Stats.Max}}</td>
    </tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Checks}}
<section class="panel">
  <h2>Checks</h2>
  <table>
    <tr><th>check</th><th class="num">&#10003;</th><th class="num">&#10007;</th><th class="num">pass rate</th></tr>
    {{range .Checks}}
    <tr>
      <td class="{{if .Fails}}ko{{else}}ok{{end}}">{{.Name}}</td>
      <td class="num">{{formatNumber .Passes}}</td>
      <td class="num">{{formatNumber .Fails}}</td>
      <td class="num">{{percent .Rate}}</td>
    </tr>
    {{end}}
  </table>
</section>
{{end}}

<section class="panel">
  <h2>Stages</h2>
  <table>
    <tr><th>#</th><th>name</th><th class="num">duration</th><th class="num">target VUs</th></tr>
    {{range $i, $s := .Stages}}
    <tr><td>{{$i}}</td><td>{{$s.Name}}</td><td class="num">{{formatDuration $s.Duration}}</td><td class="num">{{$s.Target}}</td></tr>
    {{end}}
  </table>
</section>

<footer>taskload &middot; {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</footer>
</main>

<script>
const buckets = {{.TimeSeriesJSON}};

const phaseColor = {
  'ramp-up': '#0065ff',
  'steady': '#36b37e',
  'ramp-down': '#ff991f',
  'draining': '#6554c0',
};

function series(label, key, color, opts) {
  return Object.assign({
    label: label,
    data: buckets.map(b => b[key]),
    borderColor: color,
    backgroundColor: color,
    borderWidth: 1.5,
    pointRadius: 0,
  }, opts || {});
}

function plot(id, type, datasets, yLabel, stacked) {
  const canvas = document.getElementById(id);
  if (!canvas) {
    return;
  }
  new Chart(canvas, {
    type: type,
    data: { labels: buckets.map(b => b.offset + 's'), datasets: datasets },
    options: {
      animation: false,
      maintainAspectRatio: false,
      interaction: { mode: 'index', intersect: false },
      scales: {
        x: { stacked: !!stacked, ticks: { maxTicksLimit: 12 } },
        y: { stacked: !!stacked, beginAtZero: true, title: { display: !!yLabel, text: yLabel } },
      },
    },
  });
}

function drawCharts() {
  plot('stageProfile', 'line', [
    series('target', 'target', '#97a0af', { borderDash: [5, 3], stepped: true }),
    series('live VUs', 'vus', '#0065ff', {
      segment: { borderColor: ctx => phaseColor[buckets[ctx.p1DataIndex].phase] || '#0065ff' },
    }),
  ], 'VUs');
  plot('apiTraffic', 'bar', [
    series('ok', 'ok', '#36b37e'),
    series('failed', 'failures', '#de350b'),
  ], 'requests', true);
  plot('reqDuration', 'line', [
    series('med', 'p50', '#36b37e'),
    series('p(95)', 'p95', '#ff991f'),
    series('p(99)', 'p99', '#de350b'),
    series('max', 'max', '#6b778c', { borderDash: [2, 2] }),
  ], 'ms');
  plot('reqFailed', 'line', [
    series('failed %', 'errorRate', '#de350b', { fill: 'origin', backgroundColor: 'rgba(222,53,11,0.15)' }),
  ], '%');
}

if (buckets.length > 0 && typeof Chart !== 'undefined') {
  drawCharts();
}
</script>
</body>
</html>`
