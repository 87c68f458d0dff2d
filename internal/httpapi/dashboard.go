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
  <title>Weaver Index Status</title>
  <style>
    :root {
      --ink: #1b1a17;
      --paper: #f6f3ec;
      --card: #fffdf8;
      --line: #ddd4c0;
      --accent: #5b6b4f;
      --accent-2: #a8632f;
      --danger: #b0392b;
      --muted: #6e6a5c;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Iowan Old Style", "Georgia", serif;
      color: var(--ink);
      background: var(--paper);
      min-height: 100vh;
      padding: 24px;
    }
    .shell { max-width: 960px; margin: 0 auto; display: grid; gap: 16px; }
    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 10px;
      padding: 18px;
    }
    h1 { margin: 0 0 4px; font-size: 1.4rem; }
    .sub { color: var(--muted); font-size: 0.9rem; }
    .row { display: grid; grid-template-columns: 1fr 1fr auto; gap: 10px; margin-top: 10px; }
    input, button {
      font: inherit; padding: 8px 10px; border-radius: 8px;
      border: 1px solid var(--line); background: #fff;
    }
    button { background: var(--accent); color: #fff; border: none; cursor: pointer; }
    .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(220px, 1fr)); gap: 12px; }
    .stat { font-size: 1.6rem; font-weight: 600; }
    .label { color: var(--muted); font-size: 0.8rem; text-transform: uppercase; letter-spacing: 0.04em; }
    .status-ok { color: var(--accent); }
    .status-bad { color: var(--danger); }
    pre { white-space: pre-wrap; word-break: break-word; font-size: 0.85rem; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <h1>Weaver Index &amp; Collaboration Core</h1>
      <div class="sub">Ingestion cursor, edit DAG convergence, and live collaboration at a glance.</div>
      <div class="row">
        <input id="token" type="password" placeholder="admin bearer token" />
        <input id="consumer" type="text" placeholder="consumer id (e.g. weaver-indexer)" />
        <button id="refresh">Refresh</button>
      </div>
    </div>
    <div class="bar">
      <div class="grid" id="stats">
        <div><div class="label">Status</div><div class="stat" id="statStatus">—</div></div>
        <div><div class="label">Last Seq</div><div class="stat" id="statSeq">—</div></div>
        <div><div class="label">Last Event Time</div><div class="stat" id="statEventTime">—</div></div>
      </div>
    </div>
    <div class="bar">
      <div class="label">Raw Response</div>
      <pre id="raw">no data yet</pre>
    </div>
  </div>
  <script>
    (function () {
      var dom = {
        token: document.getElementById("token"),
        consumer: document.getElementById("consumer"),
        refresh: document.getElementById("refresh"),
        status: document.getElementById("statStatus"),
        seq: document.getElementById("statSeq"),
        eventTime: document.getElementById("statEventTime"),
        raw: document.getElementById("raw"),
      };

      function setStatus(text, kind) {
        dom.status.textContent = text;
        dom.status.className = "stat " + (kind === "bad" ? "status-bad" : "status-ok");
      }

      function refresh() {
        var token = dom.token.value.trim();
        var consumer = dom.consumer.value.trim() || "weaver-indexer";
        if (!token) {
          setStatus("enter token", "bad");
          return;
        }
        fetch("/admin/status?consumer_id=" + encodeURIComponent(consumer), {
          headers: {
            "Authorization": "Bearer " + token,
            "X-Correlation-Id": "dashboard-" + Date.now(),
          },
        })
          .then(function (resp) { return resp.json().then(function (body) { return { ok: resp.ok, body: body }; }); })
          .then(function (result) {
            dom.raw.textContent = JSON.stringify(result.body, null, 2);
            if (!result.ok) {
              setStatus(result.body.message || "error", "bad");
              return;
            }
            setStatus("ingesting", "ok");
            var cursor = result.body.cursor || {};
            dom.seq.textContent = cursor.Seq != null ? cursor.Seq : "—";
            dom.eventTime.textContent = cursor.EventTime || "—";
          })
          .catch(function (err) {
            setStatus("unreachable", "bad");
            dom.raw.textContent = String(err);
          });
      }

      dom.refresh.addEventListener("click", refresh);
      var savedToken = window.localStorage.getItem("weaver_dashboard_token") || "";
      var savedConsumer = window.localStorage.getItem("weaver_dashboard_consumer") || "weaver-indexer";
      dom.token.value = savedToken;
      dom.consumer.value = savedConsumer;
      dom.token.addEventListener("change", function () {
        window.localStorage.setItem("weaver_dashboard_token", dom.token.value);
      });
      dom.consumer.addEventListener("change", function () {
        window.localStorage.setItem("weaver_dashboard_consumer", dom.consumer.value);
      });
      if (savedToken) {
        refresh();
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
