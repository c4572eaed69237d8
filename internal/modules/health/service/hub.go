package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"var_gold/internal/models"
	"var_gold/internal/observability"
	"var_gold/pkg/logger"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// TickMessage: то, что уходит подписчикам /ws.
type TickMessage struct {
	TsMs              int64    `json:"ts_ms"`
	PaxgBid           float64  `json:"paxg_bid"`
	PaxgAsk           float64  `json:"paxg_ask"`
	XautBid           float64  `json:"xaut_bid"`
	XautAsk           float64  `json:"xaut_ask"`
	SpreadOpen        float64  `json:"spread_open"`
	SpreadClose       float64  `json:"spread_close"`
	FundingDiffAnnual *float64 `json:"funding_diff_annual,omitempty"`
	LatencyMs         int64    `json:"latency_ms"`
}

// Hub раздаёт снимки рынка всем websocket-клиентам. Медленный клиент теряет сообщения.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *observability.Metrics

	mu      sync.RWMutex
	clients map[chan []byte]*websocket.Conn
	closed  bool
}

func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		clients: make(map[chan []byte]*websocket.Conn),
	}
}

func (h *Hub) OnSnapshot(snap models.MarketSnapshot) {
	payload, err := sonic.Marshal(TickMessage{
		TsMs:              snap.TsMs,
		PaxgBid:           snap.PaxgBid,
		PaxgAsk:           snap.PaxgAsk,
		XautBid:           snap.XautBid,
		XautAsk:           snap.XautAsk,
		SpreadOpen:        snap.SpreadOpen,
		SpreadClose:       snap.SpreadClose,
		FundingDiffAnnual: snap.FundingDiffAnnual,
		LatencyMs:         snap.LatencyMs,
	})
	if err != nil {
		logger.Error("ws marshal: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *Hub) OnFailure(int, error) {}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP апгрейдит соединение и пишет в него до отключения клиента.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade: %v", err)
		return
	}

	defer func() { _ = conn.Close() }()
	ch, ok := h.subscribe(conn)
	if !ok {
		return
	}
	defer h.unsubscribe(ch)

	// читатель нужен, чтобы заметить закрытие со стороны клиента
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribe(conn *websocket.Conn) (chan []byte, bool) {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.clients[ch] = conn
	n := len(h.clients)
	h.mu.Unlock()
	h.setGauge(n)
	return ch, true
}

// Close рвёт все подключения. http.Server.Shutdown не трогает hijacked-соединения.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	n := len(h.clients)
	h.mu.Unlock()
	h.setGauge(n)
}

func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}
