package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecore/internal/api/handlers"
	"tradecore/internal/api/middleware"
	"tradecore/internal/bot"
	"tradecore/internal/config"
	"tradecore/internal/websocket"
)

// Dependencies bundles everything SetupRoutes needs to wire the
// bot-command interface.
type Dependencies struct {
	Loop           *bot.TradeLoop
	Config         config.TradingDocument
	AllowedChatIDs []string
	Hub            *websocket.Hub
}

// SetupRoutes builds the full router: the bot-command interface under
// /, the live-update WebSocket stream, health/metrics/pprof endpoints.
//
// Routes:
//
//	GET  /status            safe-mode/pause/position snapshot
//	GET  /positions          every open position and pair
//	GET  /config             the active trading document
//	POST /pause               latch trading_paused
//	POST /resume               clear trading_paused
//	POST /set_stop_loss         push a live stop-loss percentage
//	GET  /help, /commands    command list
//	GET  /ws/stream          live position/pair/notification push
//	GET  /health             liveness probe
//	GET  /metrics            Prometheus exposition
//	/debug/pprof/*            profiling, gated by DebugAuth
//
// Global middleware order: Recovery, Logging, CORS, then
// BotCommandAuth scoped to the command routes only — health, metrics,
// and the WebSocket upgrade stay open for infrastructure probes.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	if deps != nil && deps.Loop != nil {
		botHandler := handlers.NewBotHandler(deps.Loop, deps.Config)

		commands := router.NewRoute().Subrouter()
		commands.Use(middleware.BotCommandAuth(deps.AllowedChatIDs))

		commands.HandleFunc("/status", botHandler.Status).Methods("GET")
		commands.HandleFunc("/positions", botHandler.Positions).Methods("GET")
		commands.HandleFunc("/config", botHandler.Config).Methods("GET")
		commands.HandleFunc("/pause", botHandler.Pause).Methods("POST")
		commands.HandleFunc("/resume", botHandler.Resume).Methods("POST")
		commands.HandleFunc("/set_stop_loss", botHandler.SetStopLoss).Methods("POST")
		commands.HandleFunc("/help", botHandler.Help).Methods("GET")
		commands.HandleFunc("/commands", botHandler.Commands).Methods("GET")
	}

	if deps != nil && deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		}).Methods("GET")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)

	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("heap").ServeHTTP(w, r) })
	debug.HandleFunc("/goroutine", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("goroutine").ServeHTTP(w, r) })
	debug.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("block").ServeHTTP(w, r) })
	debug.HandleFunc("/threadcreate", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("threadcreate").ServeHTTP(w, r) })
	debug.HandleFunc("/mutex", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("mutex").ServeHTTP(w, r) })
	debug.HandleFunc("/allocs", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("allocs").ServeHTTP(w, r) })

	router.HandleFunc("/debug/runtime", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{`))
		w.Write([]byte(`"goroutines":` + itoa(runtime.NumGoroutine()) + `,`))
		w.Write([]byte(`"heap_alloc_mb":` + ftoa(float64(m.HeapAlloc)/1024/1024) + `,`))
		w.Write([]byte(`"heap_sys_mb":` + ftoa(float64(m.HeapSys)/1024/1024) + `,`))
		w.Write([]byte(`"num_gc":` + itoa(int(m.NumGC)) + `,`))
		w.Write([]byte(`"gc_pause_total_ms":` + ftoa(float64(m.PauseTotalNs)/1e6)))
		w.Write([]byte(`}`))
	}).Methods("GET")

	return router
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

func ftoa(f float64) string {
	i := int(f * 100)
	whole := i / 100
	frac := i % 100
	if frac < 0 {
		frac = -frac
	}
	fracStr := itoa(frac)
	if len(fracStr) == 1 {
		fracStr = "0" + fracStr
	}
	return itoa(whole) + "." + fracStr
}
