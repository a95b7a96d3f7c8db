package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Capture Events - HAR Capturer</title>
  <style>
    body {
      margin: 0;
      padding: 32px 48px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1 { font-size: 22px; color: #f0f6fc; }
    h2 { font-size: 16px; color: #f0f6fc; margin-top: 32px; }
    code, pre {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
    }
    code { padding: 1px 5px; }
    pre { padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #30363d; padding: 6px 12px; text-align: left; }
  </style>
</head>
<body>
  <a href="/docs">&larr; REST API</a>
  <h1>Capture Events</h1>
  <p>
    <code>GET /api/v1/events</code> is a Server-Sent Events stream reporting the
    progress of every capture run by this server. Filter with
    <code>?types=page_end,page_error</code>.
  </p>

  <h2>Event types</h2>
  <table>
    <tr><th>event</th><th>sent when</th></tr>
    <tr><td><code>capture_start</code></td><td>a capture request has the browser</td></tr>
    <tr><td><code>page_start</code></td><td>the tab starts loading a URL</td></tr>
    <tr><td><code>page_end</code></td><td>a page loaded and will be in the archive</td></tr>
    <tr><td><code>page_error</code></td><td>the page's main request failed</td></tr>
    <tr><td><code>capture_end</code></td><td>the run finished; <code>error</code> is set when it failed</td></tr>
  </table>

  <h2>Frame</h2>
<pre>event: page_end
data: {"type":"page_end","capture_id":"5b0c...","url":"http://example.com/","at":"2024-01-01T00:00:00Z"}
</pre>
  <p>Idle streams receive a <code>: ping</code> comment every 15 seconds.</p>

  <h2>Example</h2>
<pre>curl -N http://127.0.0.1:8288/api/v1/events</pre>
</body>
</html>`
