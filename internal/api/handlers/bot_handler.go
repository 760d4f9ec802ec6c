package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"tradecore/internal/bot"
	"tradecore/internal/config"
	"tradecore/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BotHandler serves the bot-command interface (§6): status, positions,
// config, pause, resume, set_stop_loss, help, commands — a read/control
// surface over one running TradeLoop.
type BotHandler struct {
	loop *bot.TradeLoop
	cfg  config.TradingDocument
}

// NewBotHandler builds a BotHandler over loop, echoing cfg back on the
// "config" command.
func NewBotHandler(loop *bot.TradeLoop, cfg config.TradingDocument) *BotHandler {
	return &BotHandler{loop: loop, cfg: cfg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Status handles GET /status — the trade loop's current safe-mode,
// pause, and position-count snapshot.
//
// Response 200 OK:
//
//	{"safe_mode_latched":false,"safe_mode_reason":"","trading_paused":false,
//	 "pause_reason":"","open_positions":2,"open_pairs":1,
//	 "consecutive_api_errors":0,"cycle_count":144}
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loop.Status())
}

// Positions handles GET /positions — every open single-leg and pair
// position.
//
// Response 200 OK:
//
//	{"positions":[...],"pairs":[...]}
func (h *BotHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, pairs := h.loop.Positions()
	if positions == nil {
		positions = []*models.Position{}
	}
	if pairs == nil {
		pairs = []*models.PairPosition{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"pairs":     pairs,
	})
}

// Config handles GET /config — the active trading document, so an
// operator can confirm what's live without reading the YAML file
// directly.
func (h *BotHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg)
}

// Pause handles POST /pause — latches trading_paused immediately.
// Accepts an optional JSON body {"reason": "..."}; defaults to
// "manual_pause".
//
// Response 200 OK: {"message": "trading paused", "reason": "..."}
func (h *BotHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	reason := body.Reason
	if reason == "" {
		reason = "manual_pause"
	}
	h.loop.Pause(reason)
	writeJSON(w, http.StatusOK, map[string]string{"message": "trading paused", "reason": reason})
}

// Resume handles POST /resume — clears trading_paused immediately.
//
// Response 200 OK: {"message": "trading resumed"}
func (h *BotHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.loop.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"message": "trading resumed"})
}

// SetStopLoss handles POST /set_stop_loss with JSON body
// {"stop_loss_pct": 12.5}. The value is validated and written back to the
// trading document (after a timestamped backup of the file), then pushed
// into the live risk controller. Rejects an invalid percentage, or a
// failed write-back, with 400.
//
// Response 200 OK: {"message": "stop loss updated", "stop_loss_pct": 12.5}
// Response 400 Bad Request: {"error": "..."}
func (h *BotHandler) SetStopLoss(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StopLossPct float64 `json:"stop_loss_pct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.cfg.SetStopLoss(body.StopLossPct); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.loop.SetStopLoss(body.StopLossPct); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "stop loss updated",
		"stop_loss_pct": body.StopLossPct,
	})
}

// commandHelp documents every bot-command interface endpoint, served by
// both Help and Commands.
var commandHelp = []map[string]string{
	{"command": "status", "method": "GET", "path": "/status", "description": "safe-mode/pause/position snapshot"},
	{"command": "positions", "method": "GET", "path": "/positions", "description": "every open position and pair"},
	{"command": "config", "method": "GET", "path": "/config", "description": "the active trading document"},
	{"command": "pause", "method": "POST", "path": "/pause", "description": "latch trading_paused immediately"},
	{"command": "resume", "method": "POST", "path": "/resume", "description": "clear trading_paused immediately"},
	{"command": "set_stop_loss", "method": "POST", "path": "/set_stop_loss", "description": "push a live stop-loss percentage"},
	{"command": "help", "method": "GET", "path": "/help", "description": "this list"},
	{"command": "commands", "method": "GET", "path": "/commands", "description": "same as help"},
}

// Help handles GET /help.
func (h *BotHandler) Help(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": commandHelp})
}

// Commands handles GET /commands — an alias for Help kept for callers
// that expect either spelling.
func (h *BotHandler) Commands(w http.ResponseWriter, r *http.Request) {
	h.Help(w, r)
}
