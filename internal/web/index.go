package web

// Single-page dashboard: search, selected asset, trade form, portfolio and live trades.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>papertrade</title>
  <link rel="preconnect" href="https://fonts.googleapis.com">
  <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
  <link href="https://fonts.googleapis.com/css2?family=Press+Start+2P&family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-mid:#4d4d4d; --ink-soft:#9c9c9c; --panel:#f6f6f6; --up:#1b9aaa; --down:#d7263d; }
    * { box-sizing:border-box; }
    body { margin:0; padding:2rem; background:var(--bg); color:var(--ink); font-family:'Space Mono','JetBrains Mono',monospace; }
    #app { max-width:1200px; margin:0 auto; background:var(--panel); border:3px solid var(--ink); padding:2rem;
           box-shadow:12px 12px 0 rgba(0,0,0,.15); display:grid; grid-template-columns:1fr 360px; gap:2rem; }
    header { grid-column:1 / -1; display:flex; justify-content:space-between; align-items:center; }
    .eyebrow { font-family:'Press Start 2P',monospace; font-size:.6rem; text-transform:uppercase; letter-spacing:.2em; margin:0; }
    .card { border:3px solid var(--ink); background:#fff; padding:1.2rem; box-shadow:6px 6px 0 rgba(0,0,0,.12); margin-bottom:1.5rem; }
    .label { font-size:.62rem; text-transform:uppercase; letter-spacing:.2em; color:var(--ink-mid); }
    .value { font-size:1.6rem; font-weight:700; margin-top:.5rem; }
    .pill { font-size:.55rem; letter-spacing:.12em; text-transform:uppercase; padding:.3rem .6rem; border:2px solid var(--ink); display:inline-block; margin:.4rem .4rem 0 0; }
    .pill.warn { color:var(--down); border-color:var(--down); }
    input, select, button { font-family:inherit; font-size:.8rem; border:2px solid var(--ink); padding:.45rem .6rem; background:#fff; }
    button { cursor:pointer; text-transform:uppercase; letter-spacing:.1em; }
    table { width:100%; border-collapse:collapse; font-size:.72rem; }
    th, td { text-align:left; padding:.35rem .3rem; border-bottom:1px dashed var(--ink-soft); }
    .up { color:var(--up); } .down { color:var(--down); }
    #error { color:var(--down); font-size:.7rem; min-height:1rem; }
    #trades { max-height:70vh; overflow-y:auto; font-size:.7rem; }
    @media (max-width:760px) { #app { grid-template-columns:1fr; } }
  </style>
</head>
<body>
<div id="app">
  <header>
    <p class="eyebrow">papertrade</p>
    <span id="status" class="pill">connecting</span>
  </header>
  <main>
    <section class="card">
      <form id="search"><input id="q" placeholder="symbol or contract address" size="46" /> <button>select</button></form>
      <div id="error"></div>
    </section>
    <section class="card" id="asset">
      <div class="label" id="assetName">no asset selected</div>
      <div class="value" id="assetPrice">-</div>
      <div id="assetMeta"></div>
      <p>
        <button type="button" id="sync">sync</button>
        <select id="side"><option value="buy">buy</option><option value="sell">sell</option></select>
        <input id="amount" placeholder="amount" size="12" />
        <button type="button" id="trade">trade</button>
      </p>
    </section>
    <section class="card">
      <div class="label">equity</div>
      <div class="value" id="equity">-</div>
      <div id="pnl" class="pill">pnl -</div>
      <div id="cash" class="pill">cash -</div>
      <button type="button" id="sweep">sync portfolio</button>
      <button type="button" id="reset">reset</button>
      <table><thead><tr><th>asset</th><th>amount</th><th>avg cost</th><th>price</th><th>pnl</th><th></th></tr></thead>
      <tbody id="positions"></tbody></table>
    </section>
  </main>
  <aside class="card">
    <div class="label">trades</div>
    <div id="trades"></div>
  </aside>
</div>
<script>
const $ = (id) => document.getElementById(id);
const fmt = (v, d) => { const n = parseFloat(v); return Number.isFinite(n) ? n.toLocaleString(undefined, { maximumFractionDigits: d || 8 }) : '-'; };
const showError = (msg) => { $('error').textContent = msg || ''; };

async function api(method, path, body){
  const res = await fetch(path, { method, headers: { 'Content-Type': 'application/json' }, body: body ? JSON.stringify(body) : undefined });
  const data = await res.json().catch(() => ({}));
  if(!res.ok){ throw new Error(data.error || res.statusText); }
  return data;
}

function renderAsset(view){
  if(!view || !view.identity){ return; }
  const id = view.identity;
  $('assetName').textContent = id.symbol || id.contract_address;
  $('assetPrice').textContent = view.has_price ? '$' + fmt(view.current_price) : '-';
  const pills = [view.source || 'no source'];
  if(view.is_updating){ pills.push('updating'); }
  if(view.is_stale){ pills.push('stale'); }
  if(!view.is_price_consistent){ pills.push('inconsistent'); }
  $('assetMeta').innerHTML = pills.map((p) => '<span class="pill' + (p === 'stale' || p === 'inconsistent' ? ' warn' : '') + '">' + p + '</span>').join('');
}

function renderPortfolio(data){
  const v = data.valuation;
  $('equity').textContent = '$' + fmt(v.equity, 2);
  $('cash').textContent = 'cash $' + fmt(v.balance, 2);
  const pnl = parseFloat(v.unrealized_pnl);
  $('pnl').textContent = 'pnl ' + fmt(v.unrealized_pnl, 2) + ' (' + fmt(v.unrealized_pnl_percent, 2) + '%)';
  $('pnl').className = 'pill ' + (pnl >= 0 ? 'up' : 'down');
  $('positions').innerHTML = (v.positions || []).map((p) => {
    const live = (data.prices || {})[p.asset] || {};
    const cls = parseFloat(p.unrealized_pnl) >= 0 ? 'up' : 'down';
    return '<tr><td>' + p.asset + '</td><td>' + fmt(p.amount) + '</td><td>' + fmt(p.avg_cost) + '</td><td>' + fmt(p.mark_price) +
      '</td><td class="' + cls + '">' + fmt(p.unrealized_pnl, 2) + '</td><td>' + (live.is_stale ? '<span class="pill warn">stale</span>' : '') + '</td></tr>';
  }).join('');
}

const refreshAsset = () => api('GET', '/api/asset').then(renderAsset).catch(() => {});
const refreshPortfolio = () => api('GET', '/api/portfolio').then(renderPortfolio).catch((e) => showError(e.message));

$('search').addEventListener('submit', (e) => {
  e.preventDefault();
  showError();
  api('GET', '/api/search?q=' + encodeURIComponent($('q').value)).then((r) => renderAsset(r.asset)).catch((e) => showError(e.message));
});
$('sync').addEventListener('click', () => api('POST', '/api/asset/sync').then(renderAsset).catch((e) => showError(e.message)));
$('sweep').addEventListener('click', () => api('POST', '/api/portfolio/sync').then(renderPortfolio).catch((e) => showError(e.message)));
$('reset').addEventListener('click', () => api('POST', '/api/account/reset').then(refreshPortfolio).catch((e) => showError(e.message)));
$('trade').addEventListener('click', () => {
  showError();
  api('POST', '/api/trades', { type: $('side').value, amount: $('amount').value })
    .then((r) => { if(r.warnings){ showError('saved locally only: ' + r.warnings.join('; ')); } refreshPortfolio(); })
    .catch((e) => showError(e.message));
});

function connectTrades(){
  const source = new EventSource('/trades/stream');
  source.addEventListener('trade', (event) => {
    const entry = JSON.parse(event.data);
    const tx = entry.transaction;
    const row = document.createElement('div');
    row.className = tx.type === 'buy' ? 'up' : 'down';
    row.textContent = new Date(tx.timestamp).toLocaleTimeString([], { hour12:false }) + ' ' + tx.type + ' ' + fmt(tx.amount) + ' ' + tx.asset + ' @ ' + fmt(tx.price);
    $('trades').insertBefore(row, $('trades').firstChild);
  });
  source.addEventListener('error', () => { source.close(); setTimeout(connectTrades, 2000); });
}

function connectPrices(){
  const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/prices');
  ws.onopen = () => { $('status').textContent = 'live'; };
  ws.onmessage = (event) => {
    const msg = JSON.parse(event.data);
    if(msg.scope === 'asset'){ refreshAsset(); } else { refreshPortfolio(); }
  };
  ws.onclose = () => { $('status').textContent = 'reconnecting'; setTimeout(connectPrices, 2000); };
}

refreshAsset();
refreshPortfolio();
connectTrades();
connectPrices();
</script>
</body>
</html>`
