package dash

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/dynfee/internal/fee"
	"github.com/you/dynfee/internal/types"
)

// Row: одна строка = один пул, последняя котировка
type Row struct {
	Pool    string `json:"pool"`
	Address string `json:"address"`

	Fee    uint32 `json:"fee"`
	FeePct string `json:"feePct"`
	Clamp  string `json:"clamp,omitempty"`

	Volume     string `json:"volume"`
	Liquidity  string `json:"liquidity"`
	Volatility string `json:"volatility"`

	TS int64 `json:"ts"`
}

type TradeRow struct {
	Position  int    `json:"position"`
	Timestamp int64  `json:"ts"`
	Amount    string `json:"amount"`
}

// Ledger is the read side of the trade history the dashboard shows.
type Ledger interface {
	Trades() (first int, recs []types.TradeRecord)
	Calculate24hVolume() *big.Int
}

type Store struct {
	mu   sync.RWMutex
	rows map[string]Row // key: pool name
	hub  *Broadcaster
}

func NewStore(hub *Broadcaster) *Store {
	return &Store{rows: make(map[string]Row, 16), hub: hub}
}

// PublishQuote stores the quote and pushes it to websocket clients.
func (s *Store) PublishQuote(_ context.Context, name string, pool common.Address, q fee.Quote) error {
	row := Row{
		Pool:       name,
		Address:    pool.Hex(),
		Fee:        q.Fee,
		FeePct:     q.Percent().String(),
		Clamp:      string(q.Clamp),
		Volume:     bigString(q.Volume),
		Liquidity:  bigString(q.Liquidity),
		Volatility: bigString(q.Volatility),
		TS:         q.At,
	}
	if row.TS == 0 {
		row.TS = time.Now().Unix()
	}
	s.mu.Lock()
	s.rows[name] = row
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Broadcast(row)
	}
	return nil
}

func (s *Store) List() []Row {
	s.mu.RLock()
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Pool < out[j].Pool })
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Handler wires the JSON API and the websocket endpoint.
func Handler(s *Store, l Ledger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/quotes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.List())
	})
	mux.HandleFunc("/api/trades", func(w http.ResponseWriter, r *http.Request) {
		first, recs := l.Trades()
		out := make([]TradeRow, 0, len(recs))
		for i, rec := range recs {
			out = append(out, TradeRow{Position: first + i, Timestamp: rec.Timestamp, Amount: bigString(rec.Amount)})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("/api/volume", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"volume": bigString(l.Calculate24hVolume())})
	})
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.Handler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	return withCORS(mux)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func StartHTTP(ctx context.Context, h http.Handler, addr string, log *zap.Logger) {
	if addr == "" {
		log.Info("dash disabled: empty addr")
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() { <-ctx.Done(); _ = srv.Close() }()

	log.Info("dash listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("dash http server error", zap.Error(err))
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Dynamic Fee Monitor</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:1080px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#d1fae5;color:#065f46;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:var(--chip);border-radius:999px;color:#374151;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">Dynamic Fee Monitor</h1>
      <p class="sub">24h volume: <span id="vol">—</span></p>
    </div>
    <div id="state" class="state">connecting</div>
  </div>
  <table>
    <thead>
      <tr>
        <th>Pool</th><th>Fee</th><th>Clamp</th><th>Liquidity</th><th>Volatility</th>
        <th style="text-align:right">Updated</th>
      </tr>
    </thead>
    <tbody id="rows"></tbody>
  </table>
</div>
<script>
  var rows = {};
  function render(){
    document.getElementById('rows').innerHTML = Object.keys(rows).sort().map(function(k){
      var r = rows[k];
      return '<tr>'
        + '<td><strong>' + r.pool + '</strong><br><span class="sub">' + r.address + '</span></td>'
        + '<td><span class="chip">' + r.feePct + '%</span></td>'
        + '<td>' + (r.clamp||'—') + '</td>'
        + '<td>' + r.liquidity + '</td>'
        + '<td>' + r.volatility + '</td>'
        + '<td style="text-align:right;color:#6B7280;font-size:12px">' + new Date(r.ts*1000).toLocaleTimeString() + '</td>'
        + '</tr>';
    }).join('');
  }
  fetch('/api/quotes').then(function(r){return r.json()}).then(function(d){ d.forEach(function(r){rows[r.pool]=r}); render(); });
  setInterval(function(){ fetch('/api/volume').then(function(r){return r.json()}).then(function(d){ document.getElementById('vol').textContent = d.volume; }); }, 2000);
  var ws = new WebSocket((location.protocol==='https:'?'wss://':'ws://') + location.host + '/ws');
  ws.onopen = function(){ document.getElementById('state').textContent = 'live'; };
  ws.onclose = function(){ document.getElementById('state').textContent = 'offline'; };
  ws.onmessage = function(e){ var r = JSON.parse(e.data); rows[r.pool] = r; render(); };
</script>
</body>
</html>`
