package receipt

// indexHTML is a minimal landing page pointing at the JSON API. The full
// review interface ships separately as a static PWA and talks to these
// endpoints over CORS.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Resibo</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 3rem auto; padding: 0 1rem; color: #111; }
code { background: #f3f4f6; padding: 0.1rem 0.3rem; border-radius: 3px; }
</style>
</head>
<body>
<h1>Resibo</h1>
<p>Receipt capture and extraction API is running.</p>
<ul>
<li><code>POST /api/files</code> &mdash; upload a receipt image or PDF</li>
<li><code>POST /api/preprocess</code> &mdash; run a preprocessing preset</li>
<li><code>POST /api/ocr</code> &mdash; recognize text</li>
<li><code>GET /api/suggestions</code> &mdash; extracted field suggestions</li>
<li><code>GET /api/records</code> &mdash; saved records</li>
<li><code>GET /api/export/archive.zip</code> &mdash; full export</li>
</ul>
</body>
</html>
`
