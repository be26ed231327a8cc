package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"gridwatch/clients/backend"
	"gridwatch/internal/apperr"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket upgrader for live view pushes
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewHandler serves the dashboard view and the user actions over HTTP.
type ViewHandler struct {
	logger       *zap.Logger
	session      *Session
	metrics      *Metrics
	pushInterval time.Duration
	stats        func() ServiceStats
}

func NewViewHandler(logger *zap.Logger, session *Session, metrics *Metrics, pushInterval time.Duration, stats func() ServiceStats) *ViewHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pushInterval <= 0 {
		pushInterval = time.Second
	}
	return &ViewHandler{
		logger:       logger.Named("view"),
		session:      session,
		metrics:      metrics,
		pushInterval: pushInterval,
		stats:        stats,
	}
}

func (h *ViewHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if h.stats != nil {
		mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
			h.writeJSON(w, http.StatusOK, h.stats())
		})
	}
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/ws", h.handleWS)

	mux.HandleFunc("/api/view", h.get(func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusOK, h.session.View())
	}))
	mux.HandleFunc("/api/select", h.post(h.handleSelect))
	mux.HandleFunc("/api/refresh", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, h.session.Refresh(r.Context()))
	}))
	mux.HandleFunc("/api/watchlist", h.handleWatchlist)

	mux.HandleFunc("/api/orders", h.get(h.handleOrders))
	mux.HandleFunc("/api/orders/refresh", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, h.session.RefreshOrders(r.Context(), true))
	}))
	mux.HandleFunc("/api/orders/add", h.post(h.handleOrderAdd))
	mux.HandleFunc("/api/orders/stop", h.post(h.orderAction(func(r *http.Request, id backend.OrderID) error {
		return h.session.StopOrder(r.Context(), id)
	})))
	mux.HandleFunc("/api/orders/hide", h.post(h.orderAction(func(r *http.Request, id backend.OrderID) error {
		h.session.HideOrder(r.Context(), id)
		return nil
	})))
	mux.HandleFunc("/api/orders/unhide", h.post(h.orderAction(func(r *http.Request, id backend.OrderID) error {
		h.session.UnhideOrder(r.Context(), id)
		return nil
	})))

	mux.HandleFunc("/api/grid/start", h.post(h.handleGridStart))
	mux.HandleFunc("/api/grid/tick", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, h.session.GridTick(r.Context()))
	}))
	mux.HandleFunc("/api/grid/stop", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, h.session.GridStop(r.Context()))
	}))
	mux.HandleFunc("/api/grid/autorun", h.post(h.handleAutorun))

	mux.HandleFunc("/api/ai", h.post(h.handleAI))

	mux.HandleFunc("/api/auth/signin", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, h.session.SignIn(r.Context()))
	}))
	mux.HandleFunc("/api/auth/signout", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.session.SignOut(r.Context())
		h.respond(w, nil)
	}))
	mux.HandleFunc("/api/wallet/connect", h.post(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.session.ConnectWallet(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, conn)
	}))
	mux.HandleFunc("/api/wallet/disconnect", h.post(func(w http.ResponseWriter, r *http.Request) {
		h.session.DisconnectWallet(r.Context())
		h.respond(w, nil)
	}))

	mux.HandleFunc("/api/notices", h.handleNotices)
}

func (h *ViewHandler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slot string `json:"slot"`
		Raw  string `json:"raw"`
		Pair string `json:"pair"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	slot := SlotName(strings.ToLower(strings.TrimSpace(req.Slot)))
	if slot == "" {
		slot = SlotPrimary
	}
	if slot != SlotPrimary && slot != SlotCompare {
		h.writeError(w, apperr.Validation("select", "unknown slot %q", req.Slot))
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Select(r.Context(), slot, req.Raw, req.Pair))
}

func (h *ViewHandler) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.session.Watchlist())
	case http.MethodPost:
		h.session.Touch(r.Context())
		var item WatchItem
		if !h.decode(w, r, &item) {
			return
		}
		added, err := h.session.AddWatch(r.Context(), item)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, added)
	case http.MethodDelete:
		h.respond(w, h.session.RemoveWatch(r.Context(), r.URL.Query().Get("symbol")))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ViewHandler) handleOrders(w http.ResponseWriter, _ *http.Request) {
	v := h.session.View()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders": v.Orders,
		"hidden": v.HiddenOrders,
		"active": v.ActiveOrders,
	})
}

func (h *ViewHandler) handleOrderAdd(w http.ResponseWriter, r *http.Request) {
	var req backend.OrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, h.session.AddOrder(r.Context(), req))
}

func (h *ViewHandler) orderAction(fn func(r *http.Request, id backend.OrderID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID backend.OrderID `json:"id"`
		}
		if !h.decode(w, r, &req) {
			return
		}
		h.respond(w, fn(r, req.ID))
	}
}

func (h *ViewHandler) handleGridStart(w http.ResponseWriter, r *http.Request) {
	var params backend.GridParams
	if !h.decode(w, r, &params) {
		return
	}
	h.respond(w, h.session.GridStart(r.Context(), params))
}

func (h *ViewHandler) handleAutorun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, h.session.GridAutorun(r.Context(), req.Enabled))
}

func (h *ViewHandler) handleAI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Mode     string `json:"mode"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	answer, err := h.session.Ask(r.Context(), req.Question, req.Mode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *ViewHandler) handleNotices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.session.Notices())
	case http.MethodDelete:
		if !h.session.DismissNotice(r.URL.Query().Get("id")) {
			http.Error(w, "Notice not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWS pushes the view every pushInterval until the client goes away.
func (h *ViewHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(h.session.View()); err != nil {
		return
	}

	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(h.session.View()); err != nil {
				return // Client disconnected
			}
		}
	}
}

func (h *ViewHandler) get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func (h *ViewHandler) post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.session.Touch(r.Context())
		fn(w, r)
	}
}

func (h *ViewHandler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *ViewHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ViewHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *ViewHandler) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	h.writeJSON(w, statusFor(kind), map[string]any{
		"success": false,
		"error":   string(kind),
		"message": err.Error(),
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindThrottled:
		return http.StatusTooManyRequests
	case apperr.KindNetwork, apperr.KindParse:
		return http.StatusBadGateway
	case apperr.KindNetworkTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
