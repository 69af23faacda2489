package dashboard

// dashboardHTML is the embedded single-page monitoring UI. It polls /stats
// and streams live events from /ws; nothing here ever sees clipboard text.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>SecurePaste</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; background: #0f1115; color: #e6e6e6; }
h1 { font-size: 1.3rem; }
.cards { display: flex; gap: 1rem; flex-wrap: wrap; }
.card { background: #1a1d24; border-radius: 8px; padding: 1rem 1.5rem; min-width: 10rem; }
.card .value { font-size: 1.8rem; font-weight: 600; }
.card .label { color: #8a8f9c; font-size: 0.8rem; text-transform: uppercase; }
#events { margin-top: 1.5rem; }
#events li { padding: 0.3rem 0; border-bottom: 1px solid #242833; list-style: none; font-size: 0.85rem; }
.fail { color: #ff7b72; }
.ok { color: #7ee787; }
</style>
</head>
<body>
<h1>SecurePaste clipboard anonymizer</h1>
<div class="cards">
  <div class="card"><div class="value" id="total">-</div><div class="label">operations</div></div>
  <div class="card"><div class="value" id="success">-</div><div class="label">succeeded</div></div>
  <div class="card"><div class="value" id="failed">-</div><div class="label">failed</div></div>
  <div class="card"><div class="value" id="entities">-</div><div class="label">entities anonymized</div></div>
</div>
<ul id="events"></ul>
<script>
async function refresh() {
  const res = await fetch('/stats');
  const s = await res.json();
  document.getElementById('total').textContent = s.total_operations;
  document.getElementById('success').textContent = s.successful_operations;
  document.getElementById('failed').textContent = s.failed_operations;
  let total = 0;
  for (const k in (s.entities_found || {})) total += s.entities_found[k];
  document.getElementById('entities').textContent = total;
}
refresh();
setInterval(refresh, 5000);

const ws = new WebSocket('ws://' + location.host + '/ws');
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const li = document.createElement('li');
  if (ev.type === 'detection') {
    const types = Object.keys(ev.data.entities || {}).join(', ') || 'none';
    li.innerHTML = '<span class="ok">anonymized</span> ' + types +
      ' (' + ev.data.total_entities + ' entities, ' + ev.data.duration_ms.toFixed(0) + ' ms)';
  } else if (ev.type === 'failure') {
    li.innerHTML = '<span class="fail">failed</span> ' + ev.data.reason;
  } else {
    return;
  }
  const list = document.getElementById('events');
  list.prepend(li);
  while (list.children.length > 50) list.removeChild(list.lastChild);
  refresh();
};
</script>
</body>
</html>
`
