package cmd

// viewerHTML is the single page served at /. It follows /ws for progress snapshots and
// /ws/logs for log lines.
const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Data Differ</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #14121f; color: #e8e6f0; margin: 0; padding: 2rem; }
    h1 { color: #7d56f4; margin-top: 0; }
    .stage { display: inline-block; padding: 0.2rem 0.6rem; border-radius: 4px; background: #2a2540; color: #04b575; }
    .stage.failed, .stage.cancelled { color: #ff5f87; }
    .stage.partial { color: #ffaa00; }
    .bar { height: 12px; background: #2a2540; border-radius: 6px; overflow: hidden; margin: 1rem 0; max-width: 640px; }
    .bar div { height: 100%; background: linear-gradient(90deg, #ff7ccb, #fdff8c); width: 0; transition: width 0.3s; }
    table { border-collapse: collapse; }
    td { padding: 0.2rem 1rem 0.2rem 0; }
    td:first-child { color: #888; }
    #logs { margin-top: 2rem; background: #0d0b16; padding: 1rem; height: 320px; overflow-y: auto; font-family: monospace; font-size: 0.85rem; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>Data Differ</h1>
  <span id="stage" class="stage">connecting</span>
  <div class="bar"><div id="bar"></div></div>
  <table>
    <tr><td>Run</td><td id="run">-</td></tr>
    <tr><td>Buckets</td><td id="buckets">-</td></tr>
    <tr><td>Current bucket</td><td id="bucket">-</td></tr>
    <tr><td>Processed rows</td><td id="processed">-</td></tr>
    <tr><td>Diff rows</td><td id="diff">-</td></tr>
    <tr><td>Error</td><td id="error">-</td></tr>
  </table>
  <div id="logs"></div>
  <script>
    function connect(path, onMessage) {
      const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + path);
      ws.onmessage = (e) => onMessage(JSON.parse(e.data));
      ws.onclose = () => setTimeout(() => connect(path, onMessage), 2000);
    }
    function text(id, value) { document.getElementById(id).textContent = value; }
    connect("/ws", (msg) => {
      if (msg.type !== "progress") return;
      const p = msg.data;
      const stage = document.getElementById("stage");
      stage.textContent = p.stage;
      stage.className = "stage " + p.stage;
      const pct = p.totalBuckets > 0 ? (100 * p.completedBuckets / p.totalBuckets) : 0;
      document.getElementById("bar").style.width = pct + "%";
      text("run", p.runId || "-");
      text("buckets", p.completedBuckets + " / " + p.totalBuckets);
      const b = p.currentBucket;
      text("bucket", b ? (b.end ? "[" + b.start + ", " + b.end + ")" : b.bucket + " mod " + b.modulus) + " depth " + b.depth : "-");
      text("processed", p.processedRows);
      text("diff", p.diffRows);
      text("error", p.error || "-");
    });
    connect("/ws/logs", (msg) => {
      const logs = document.getElementById("logs");
      logs.textContent += msg.timestamp + " " + msg.level + " " + msg.message + "\n";
      logs.scrollTop = logs.scrollHeight;
    });
  </script>
</body>
</html>
`
