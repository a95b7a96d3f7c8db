package api

// docsHTML is the landing page: a quick reference for the capture routes
// above the interactive reference generated from /openapi.json.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>HAR Capturer API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; background: #0d1117; color: #c9d1d9; display: flex; flex-direction: column; height: 100vh; }
    header {
      padding: 16px 24px;
      border-bottom: 1px solid #30363d;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
      font-size: 13px;
    }
    header h1 { margin: 0 0 8px; font-size: 18px; color: #f0f6fc; }
    header nav { float: right; }
    header nav a { color: #58a6ff; text-decoration: none; margin-left: 16px; }
    header table { border-collapse: collapse; margin: 8px 0; }
    header td { padding: 2px 16px 2px 0; vertical-align: top; }
    header code, header pre { font-family: "SFMono-Regular", Consolas, Menlo, monospace; color: #e6edf3; }
    header pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 8px 12px; margin: 8px 0 0; overflow-x: auto; }
    elements-api { flex: 1; overflow: auto; }
  </style>
</head>
<body>
  <header>
    <nav>
      <a href="/docs/events">Capture Events</a>
      <a href="/openapi.json">OpenAPI</a>
    </nav>
    <h1>HAR Capturer</h1>
    <p>Loads pages one at a time in a browser over the DevTools protocol and returns a HAR 1.2 archive of their network traffic. Captures run one after another.</p>
    <table>
      <tr><td><code>POST /api/v1/captures</code></td><td>capture the listed URLs and return the HAR</td></tr>
      <tr><td><code>GET /api/v1/health</code></td><td>browser version, or 502 when the browser is unreachable</td></tr>
      <tr><td><code>GET /api/v1/snapshots</code></td><td>list stored page screenshots</td></tr>
      <tr><td><code>GET /api/v1/snapshots/{snapshot_id}/image</code></td><td>fetch one screenshot as PNG</td></tr>
      <tr><td><code>GET /api/v1/events</code></td><td>Server-Sent Events for page start, end and error</td></tr>
    </table>
    <pre>curl -s -X POST 127.0.0.1:8288/api/v1/captures \
  -H 'Content-Type: application/json' \
  -d '{"urls":["https://example.com/"],"fetch_bodies":true,"timeout_ms":30000}' | jq .har.log.entries[0].request</pre>
  </header>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
