package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>ConvoSync Status</title>
  <style>
    :root {
      --ink: #1b2430;
      --paper: #f6f7fb;
      --card: #ffffff;
      --line: #d9deea;
      --accent: #3466c2;
      --good: #2a9d6f;
      --bad: #c2483f;
      --muted: #6b7587;
      --shadow: 0 14px 30px rgba(27, 36, 48, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #f8fafe 0%, #eef2f9 55%, #f6f7fb 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 960px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    h1 { margin: 0; font-size: 1.4rem; }
    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }

    .pill {
      display: inline-block;
      padding: 3px 10px;
      border-radius: 999px;
      font-size: 0.78rem;
      font-weight: 700;
      background: #e8f0e9;
      color: var(--good);
    }

    .pill.err { background: #f7e4e2; color: var(--bad); }

    .cards {
      display: grid;
      gap: 14px;
      grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 14px;
      box-shadow: var(--shadow);
    }

    .card .label { color: var(--muted); font-size: 0.8rem; }
    .card .value { margin-top: 6px; font-size: 1.5rem; font-weight: 700; }

    table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
    th, td { text-align: left; padding: 8px 10px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 600; }
    td.num { font-variant-numeric: tabular-nums; }
    .failed { color: var(--bad); font-weight: 700; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <h1>ConvoSync <span id="status" class="pill">connecting</span></h1>
      <div class="sub">conversation insights &rarr; Notion &middot; live feed on <code>/ws</code></div>
    </div>

    <div class="cards">
      <div class="card"><div class="label">Last sync</div><div class="value" id="lastSync">&ndash;</div></div>
      <div class="card"><div class="label">Conversations synced</div><div class="value" id="processed">0</div></div>
      <div class="card"><div class="label">Runs recorded</div><div class="value" id="runs">0</div></div>
      <div class="card"><div class="label">Live clients</div><div class="value" id="clients">0</div></div>
    </div>

    <div class="bar">
      <table>
        <thead>
          <tr><th>Run</th><th>When</th><th>Total</th><th>Created</th><th>Updated</th><th>Failed</th><th>Skipped</th><th>Duration</th></tr>
        </thead>
        <tbody id="history"></tbody>
      </table>
    </div>
  </div>

  <script>
    (function () {
      const dom = {
        status: document.getElementById("status"),
        lastSync: document.getElementById("lastSync"),
        processed: document.getElementById("processed"),
        runs: document.getElementById("runs"),
        clients: document.getElementById("clients"),
        history: document.getElementById("history"),
      };

      function setStatus(text, ok) {
        dom.status.textContent = text;
        dom.status.className = ok ? "pill" : "pill err";
      }

      function fmtWhen(value) {
        if (!value) return "–";
        return new Date(value).toLocaleString();
      }

      function applyStatus(data) {
        dom.lastSync.textContent = fmtWhen(data.last_sync);
        dom.processed.textContent = String(data.processed_count || 0);
        dom.runs.textContent = String(data.runs_recorded || 0);
        dom.clients.textContent = String(data.websocket_clients || 0);
      }

      async function refreshHistory() {
        try {
          const resp = await fetch("/api/history?limit=15");
          const body = await resp.json();
          const rows = (body.runs || []).map(function (run) {
            const failed = run.failed > 0 ? '<td class="num failed">' + run.failed + "</td>" : '<td class="num">' + run.failed + "</td>";
            return "<tr><td>" + (run.run_id || "").slice(0, 8) +
              "</td><td>" + fmtWhen(run.timestamp) +
              '</td><td class="num">' + run.total_records +
              '</td><td class="num">' + run.created +
              '</td><td class="num">' + run.updated +
              "</td>" + failed +
              '<td class="num">' + run.skipped +
              '</td><td class="num">' + run.duration_seconds.toFixed(1) + "s</td></tr>";
          });
          dom.history.innerHTML = rows.join("");
        } catch (err) {
          setStatus("history unavailable", false);
        }
      }

      function connect() {
        const proto = location.protocol === "https:" ? "wss://" : "ws://";
        const socket = new WebSocket(proto + location.host + "/ws");
        socket.onopen = function () { setStatus("live", true); };
        socket.onclose = function () {
          setStatus("disconnected", false);
          setTimeout(connect, 3000);
        };
        socket.onmessage = function (frame) {
          try {
            const evt = JSON.parse(frame.data);
            if (evt.type === "status" && evt.data) {
              applyStatus(evt.data);
            } else if (evt.type === "run_complete") {
              refreshHistory();
              fetch("/api/status").then(function (r) { return r.json(); }).then(applyStatus);
            }
          } catch (err) {
            // Ignore malformed frames.
          }
        };
      }

      refreshHistory();
      fetch("/api/status").then(function (r) { return r.json(); }).then(applyStatus).catch(function () {});
      connect();
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
