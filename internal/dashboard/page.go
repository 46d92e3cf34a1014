package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Meshwork Dashboard</title>
<style>
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --yellow: #d29922;
    --red: #f85149;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg);
    color: var(--text);
    font-size: 14px;
    line-height: 1.5;
    padding: 16px;
  }
  header {
    display: flex;
    align-items: center;
    justify-content: space-between;
    margin-bottom: 16px;
    padding-bottom: 12px;
    border-bottom: 1px solid var(--border);
  }
  header h1 { font-size: 20px; font-weight: 600; }
  header h1 span { color: var(--accent); }
  .meta { font-size: 12px; color: var(--text-dim); }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; }
  @media (max-width: 900px) { .grid { grid-template-columns: 1fr; } }
  .card {
    background: var(--surface);
    border: 1px solid var(--border);
    border-radius: 8px;
    overflow: hidden;
  }
  .card h2 {
    padding: 10px 14px;
    border-bottom: 1px solid var(--border);
    font-size: 13px;
    text-transform: uppercase;
    letter-spacing: 0.5px;
  }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th, td { padding: 6px 14px; text-align: left; }
  th { color: var(--text-dim); font-weight: 500; }
  tr + tr td { border-top: 1px solid var(--border); }
  .dim { color: var(--text-dim); }
  .status-active, .status-completed, .status-achieved, .status-delivered { color: var(--green); }
  .status-busy, .status-in_progress, .status-claimed { color: var(--yellow); }
  .status-offline, .status-crashed, .status-failed, .status-blocked, .status-missed { color: var(--red); }
  .empty { padding: 14px; color: var(--text-dim); }
</style>
</head>
<body>
<header>
  <h1>mesh<span>work</span></h1>
  <div class="meta">node <span id="node">-</span> &middot; bus <span id="bus">-</span> &middot; <span id="updated">-</span></div>
</header>
<div class="grid">
  <div class="card"><h2>Agents</h2><div id="agents" class="empty">loading</div></div>
  <div class="card"><h2>Tasks</h2><div id="tasks" class="empty">loading</div></div>
  <div class="card"><h2>Messages</h2><div id="messages" class="empty">loading</div></div>
  <div class="card"><h2>Plans &amp; Milestones</h2><div id="plans" class="empty">loading</div></div>
</div>
<script>
function esc(s) {
  return String(s == null ? '' : s).replace(/[&<>"]/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;'}[c]));
}
function statusCell(s) { return '<td class="status-' + esc(s) + '">' + esc(s) + '</td>'; }
function table(headers, rows) {
  if (!rows.length) return '<div class="empty">none</div>';
  return '<table><tr>' + headers.map(h => '<th>' + h + '</th>').join('') + '</tr>' +
    rows.map(r => '<tr>' + r + '</tr>').join('') + '</table>';
}
async function refresh() {
  let snap;
  try {
    snap = await (await fetch('/api/state')).json();
  } catch (e) {
    document.getElementById('updated').textContent = 'unreachable';
    return;
  }
  document.getElementById('node').textContent = snap.node;
  document.getElementById('updated').textContent = new Date(snap.timestamp).toLocaleTimeString();
  const b = snap.bus || {};
  document.getElementById('bus').textContent =
    (b.delivered || 0) + ' delivered / ' + (b.failed || 0) + ' failed / ' + (b.expired || 0) + ' expired';

  document.getElementById('agents').innerHTML = table(
    ['id', 'role', 'status', 'task', 'heartbeat'],
    (snap.agents || []).map(a =>
      '<td>' + esc(a.id) + '</td><td>' + esc(a.role) + '</td>' + statusCell(a.status) +
      '<td class="dim">' + esc(a.current_task_id) + '</td><td class="dim">' + esc(a.last_heartbeat) + '</td>'));

  document.getElementById('tasks').innerHTML = table(
    ['title', 'status', 'priority', 'claimed by', 'age'],
    (snap.tasks || []).map(t =>
      '<td>' + esc(t.title) + '</td>' + statusCell(t.status) + '<td>' + esc(t.priority) + '</td>' +
      '<td class="dim">' + esc(t.claimed_by) + '</td><td class="dim">' + esc(t.age) + '</td>'));

  document.getElementById('messages').innerHTML = table(
    ['from', 'to', 'subject', 'status', 'age'],
    (snap.messages || []).map(m =>
      '<td>' + esc(m.from) + '</td><td>' + esc(m.to) + '</td><td>' + esc(m.subject) + '</td>' +
      statusCell(m.status) + '<td class="dim">' + esc(m.age) + '</td>'));

  const planRows = (snap.plans || []).map(p =>
    '<td>' + esc(p.name) + ' <span class="dim">v' + p.version + '</span></td>' +
    '<td>' + (p.items || []).length + ' item(s)</td><td>' + Math.round(p.overall_progress) + '%</td>');
  const msRows = (snap.milestones || []).map(m =>
    '<td>' + esc(m.name) + '</td>' + statusCell(m.status) + '<td>' + Math.round(m.progress) + '%</td>');
  document.getElementById('plans').innerHTML =
    table(['plan', 'items', 'progress'], planRows) + table(['milestone', 'status', 'progress'], msRows);
}
refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`
