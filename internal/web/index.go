package web

// Single-session dashboard: price chart, position, signals, trades and activity.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Ruletrader</title>
  <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
  <link rel="preconnect" href="https://fonts.googleapis.com">
  <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
  <link href="https://fonts.googleapis.com/css2?family=Press+Start+2P&family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root {
      --bg:#ffffff;
      --ink:#111111;
      --ink-mid:#4d4d4d;
      --ink-soft:#9c9c9c;
      --panel:#f6f6f6;
      --gain:#10b981;
      --loss:#d7263d;
    }
    * { box-sizing:border-box; }
    body {
      margin:0;
      min-height:100vh;
      padding:2rem;
      background:var(--bg);
      color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1400px, 96vw);
      margin:0 auto;
      background:var(--panel);
      border:3px solid var(--ink);
      padding:2rem;
      box-shadow:12px 12px 0 rgba(0,0,0,.15);
      display:grid;
      grid-template-columns:1fr 380px;
      gap:2rem;
    }
    .main-content { display:flex; flex-direction:column; gap:1.5rem; }
    header { display:flex; justify-content:space-between; align-items:flex-start; gap:1rem; }
    .eyebrow {
      font-family:'Press Start 2P','Space Mono',monospace;
      font-size:.55rem;
      text-transform:uppercase;
      letter-spacing:.2em;
      margin:0;
    }
    .status {
      font-size:.65rem;
      text-transform:uppercase;
      letter-spacing:.1em;
      border:2px solid var(--ink);
      padding:.4rem .9rem;
      background:#ffffff;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
    }
    .chart { width:100%; border:2px solid var(--ink); background:#fff; }
    .stats { display:grid; grid-template-columns:repeat(auto-fit, minmax(180px, 1fr)); gap:1rem; }
    .equity {
      border:3px solid var(--ink);
      padding:1rem;
      background:#fff;
      box-shadow:6px 6px 0 rgba(0,0,0,.12);
    }
    .equity .label { font-size:.6rem; text-transform:uppercase; letter-spacing:.2em; color:var(--ink-mid); }
    .equity .value { margin-top:.6rem; font-size:1.2rem; font-weight:700; letter-spacing:.06em; }
    .gain { color:var(--gain); }
    .loss { color:var(--loss); }
    .meta { display:flex; flex-wrap:wrap; gap:.5rem; }
    .pill {
      font-size:.55rem;
      letter-spacing:.12em;
      text-transform:uppercase;
      padding:.35rem .7rem;
      border:2px solid var(--ink);
      background:#fefefe;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
    }
    .pill.muted { color:var(--ink-mid); border-color:var(--ink-mid); }
    table { width:100%; border-collapse:collapse; font-size:.7rem; background:#fff; border:2px solid var(--ink); }
    th, td { padding:.45rem .6rem; border-bottom:1px dashed var(--ink-soft); text-align:left; }
    th { text-transform:uppercase; letter-spacing:.1em; font-size:.6rem; }
    .sidebar { display:flex; flex-direction:column; gap:.6rem; max-height:calc(100vh - 8rem); overflow-y:auto; }
    .sidebar-title {
      font-family:'Press Start 2P','Space Mono',monospace;
      font-size:.6rem;
      text-transform:uppercase;
      letter-spacing:.15em;
      padding-bottom:.8rem;
      border-bottom:2px solid var(--ink);
    }
    .entry { border:2px solid var(--ink); padding:.6rem; background:#fff; font-size:.65rem; line-height:1.4; }
    .entry .time { color:var(--ink-mid); margin-right:.4rem; }
    .entry.error { border-color:var(--loss); }
    .entry.trade { border-color:var(--gain); }
    @media (max-width:640px) {
      body { padding:1rem; }
      #app { padding:1.2rem; grid-template-columns:1fr; }
      header { flex-direction:column; }
    }
  </style>
</head>
<body>
  <div id="app">
    <div class="main-content">
      <header>
        <div>
          <p class="eyebrow">ruletrader</p>
          <h2 id="title" class="eyebrow" style="margin-top:.8rem">waiting for session…</h2>
        </div>
        <div id="sse-status" class="status">Connecting…</div>
      </header>
      <div class="meta" id="strategy"></div>
      <canvas id="priceChart" class="chart" height="300"></canvas>
      <section class="stats">
        <div class="equity"><div class="label">Price</div><div class="value" id="price">–</div></div>
        <div class="equity"><div class="label">Position</div><div class="value" id="position">–</div></div>
        <div class="equity"><div class="label">Position P&amp;L</div><div class="value" id="positionPnl">–</div></div>
        <div class="equity"><div class="label">Portfolio</div><div class="value" id="portfolio">–</div></div>
        <div class="equity"><div class="label">Total P&amp;L</div><div class="value" id="totalPnl">–</div></div>
      </section>
      <div class="meta" id="signals"></div>
      <canvas id="equityChart" class="chart" height="160"></canvas>
      <table>
        <thead><tr><th>Time</th><th>Side</th><th>Qty</th><th>Price</th><th>Value</th><th>P&amp;L</th><th>Order</th></tr></thead>
        <tbody id="trades"><tr><td colspan="7">No trades yet</td></tr></tbody>
      </table>
    </div>
    <aside class="sidebar">
      <h3 class="sidebar-title">Activity</h3>
      <div id="activity"></div>
    </aside>
  </div>
<script>
const num = v => v === undefined || v === null || v === '' ? NaN : Number(v);
const fixed = (v, d) => isNaN(num(v)) ? '–' : num(v).toFixed(d);
const signed = v => { const n = num(v); return isNaN(n) ? '–' : (n >= 0 ? '+' : '') + n.toFixed(2) + '%'; };
const tone = (el, v) => { el.classList.remove('gain', 'loss'); const n = num(v); if (!isNaN(n) && n !== 0) el.classList.add(n > 0 ? 'gain' : 'loss'); };
const clock = ts => new Date(ts).toLocaleTimeString();

const priceChart = new Chart(document.getElementById('priceChart'), {
  type: 'line',
  data: { labels: [], datasets: [
    { label: 'close', data: [], borderColor: '#111', borderWidth: 2, pointRadius: 0 },
    { label: 'sma_20', data: [], borderColor: '#3b82f6', borderWidth: 1, pointRadius: 0 },
    { label: 'bb_upper', data: [], borderColor: '#9c9c9c', borderWidth: 1, borderDash: [4, 4], pointRadius: 0 },
    { label: 'bb_lower', data: [], borderColor: '#9c9c9c', borderWidth: 1, borderDash: [4, 4], pointRadius: 0 },
  ] },
  options: { animation: false, responsive: true, scales: { x: { ticks: { maxTicksLimit: 8 } } } },
});

const equityChart = new Chart(document.getElementById('equityChart'), {
  type: 'line',
  data: { labels: [], datasets: [{ label: 'portfolio value', data: [], borderColor: '#10b981', borderWidth: 2, pointRadius: 0 }] },
  options: { animation: false, responsive: true, scales: { x: { ticks: { maxTicksLimit: 8 } } } },
});

function renderStrategy(s, perf, state) {
  const pills = [
    s.strategy_id || 'unnamed', s.coin_symbol, s.timeframe,
    'alloc ' + s.allocation + '%', 'SL ' + s.stop_loss + '%', 'TP ' + s.take_profit + '%', 'state ' + state,
  ];
  if (perf) pills.push('win ' + perf.win_rate.toFixed(1) + '%', 'sharpe ' + perf.sharpe_ratio.toFixed(2));
  document.getElementById('strategy').innerHTML = pills.map(p => '<span class="pill">' + p + '</span>').join('');
}

function renderChart(candles) {
  candles = candles || [];
  priceChart.data.labels = candles.map(c => clock(c.open_time));
  priceChart.data.datasets.forEach(ds => {
    ds.data = candles.map(c => ds.label === 'close' ? num(c.close) : (c.indicators || {})[ds.label] ?? null);
  });
  priceChart.update();
}

function renderTrades(txs) {
  const body = document.getElementById('trades');
  if (!txs || txs.length === 0) { body.innerHTML = '<tr><td colspan="7">No trades yet</td></tr>'; return; }
  body.innerHTML = txs.slice().reverse().map(t =>
    '<tr><td>' + new Date(t.timestamp).toLocaleString() + '</td><td>' + t.type + '</td><td>' + fixed(t.quantity, 6) +
    '</td><td>' + fixed(t.price, 2) + '</td><td>' + fixed(t.value, 2) + '</td><td>' + (t.pnl === null ? '' : signed(t.pnl)) +
    '</td><td>' + t.order_id + '</td></tr>').join('');
}

function renderActivity(entries) {
  document.getElementById('activity').innerHTML = (entries || []).slice().reverse().map(e =>
    '<div class="entry ' + e.category + '"><span class="time">' + clock(e.time) + '</span>' + e.message + '</div>').join('');
}

function handleState(snap) {
  document.getElementById('title').textContent = snap.pair || 'waiting for session…';
  if (snap.strategy) renderStrategy(snap.strategy, snap.performance, snap.state);
  document.getElementById('price').textContent = fixed(snap.price, 2);
  const base = (snap.pair || '').split('_')[0];
  document.getElementById('position').textContent = fixed(snap.position && snap.position.amount, 6) + ' ' + base;
  const pnl = document.getElementById('positionPnl');
  pnl.textContent = num(snap.position && snap.position.amount) > 0 ? signed(snap.position_pnl_percent) : '–';
  tone(pnl, snap.position_pnl_percent);
  const p = snap.portfolio || {};
  document.getElementById('portfolio').textContent = fixed(p.total_value, 2);
  const total = document.getElementById('totalPnl');
  const pct = num(p.initial_value) > 0 ? (num(p.total_value) - num(p.initial_value)) / num(p.initial_value) * 100 : NaN;
  total.textContent = signed(pct);
  tone(total, pct);
  const sig = snap.signal || {};
  document.getElementById('signals').innerHTML =
    '<span class="pill' + (sig.entry ? '' : ' muted') + '">entry ' + (sig.entry ? 'met' : 'not met') + '</span>' +
    '<span class="pill' + (sig.exit ? '' : ' muted') + '">exit ' + (sig.exit ? 'met' : 'not met') + '</span>';
  renderChart(snap.candles);
  renderTrades(snap.transactions);
  renderActivity(snap.activity);
}

function connect(path, event, handler) {
  const es = new EventSource(path);
  const status = document.getElementById('sse-status');
  es.onopen = () => { status.textContent = 'Live'; };
  es.onerror = () => { status.textContent = 'Reconnecting…'; };
  es.addEventListener(event, e => handler(JSON.parse(e.data)));
  return es;
}

connect('/state/stream', 'state', handleState);
connect('/portfolio/stream', 'portfolio', p => {
  equityChart.data.labels.push(clock(p.ts));
  equityChart.data.datasets[0].data.push(num(p.total_value));
  if (equityChart.data.labels.length > 500) {
    equityChart.data.labels.shift();
    equityChart.data.datasets[0].data.shift();
  }
  equityChart.update();
});
</script>
</body>
</html>
`
