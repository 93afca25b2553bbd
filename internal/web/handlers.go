package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/balance"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/logic/motion"
)

// LevelRequest holds levelling parameters that override the configured
// defaults. Zero values mean "use the default".
type LevelRequest struct {
	InitialBatchSize int     `json:"initial_batch_size"`
	CallBudget       int     `json:"call_budget"`
	Tolerance        float64 `json:"tolerance"`
	MaxBatchSize     int     `json:"max_batch_size"`
	MoveToBest       bool    `json:"move_to_best"`
}

// Upper limits accepted from the network.
const (
	MaxCallBudget = 1000
	MaxBatch      = 10000
)

// ValidateLevelRequest checks a request before it reaches the hardware.
func ValidateLevelRequest(r LevelRequest) error {
	if r.InitialBatchSize < 0 || r.InitialBatchSize > MaxBatch {
		return fmt.Errorf("initial_batch_size must be between 1 and %d", MaxBatch)
	}
	if r.MaxBatchSize < 0 || r.MaxBatchSize > MaxBatch {
		return fmt.Errorf("max_batch_size must be between 1 and %d", MaxBatch)
	}
	if r.CallBudget < 0 || r.CallBudget > MaxCallBudget {
		return fmt.Errorf("call_budget must be between 1 and %d", MaxCallBudget)
	}
	if math.IsNaN(r.Tolerance) || math.IsInf(r.Tolerance, 0) || r.Tolerance < 0 {
		return fmt.Errorf("tolerance must be a finite value >= 0")
	}
	return nil
}

// RunLevelFunc runs one levelling session. It is called from the POST
// /level handler in a goroutine.
type RunLevelFunc func(ctx context.Context, req LevelRequest) (balance.BestResult, error)

// Status is the rig snapshot served on GET /status.
type Status struct {
	Running  bool                  `json:"running"`
	Position motion.Position       `json:"position"`
	Centroid geometry.Point        `json:"centroid"`
	Boundary geometry.Boundary     `json:"boundary"`
	Bounds   geometry.SearchBounds `json:"search_bounds"`
	Trials   int                   `json:"trials"`
	Best     *balance.BestResult   `json:"best,omitempty"`
	LastErr  string                `json:"last_error,omitempty"`
}

// Rig gives the handlers read access to the controller state.
type Rig interface {
	Position() motion.Position
	Centroid() geometry.Point
	Boundary() geometry.Boundary
	Bounds() geometry.SearchBounds
	Trials() ([]balance.Trial, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Rig          Rig
	RunLevel     RunLevelFunc
	FormDefaults LevelRequest

	runningMu sync.Mutex
	running   bool
	runs      sync.WaitGroup
	cancel    context.CancelFunc
	best      *balance.BestResult
	lastErr   string
	baseCtx   context.Context
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runLevel is nil, POST /level will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, rig Rig, runLevel RunLevelFunc, formDefaults LevelRequest, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Rig:          rig,
		RunLevel:     runLevel,
		FormDefaults: formDefaults,
		baseCtx:      context.Background(),
		staticFS:     staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Verbose("web: encode response: %v", err)
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// HandleStatus returns the rig snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.runningMu.Lock()
	st := Status{Running: h.running, Best: h.best, LastErr: h.lastErr}
	h.runningMu.Unlock()

	if h.Rig != nil {
		st.Position = h.Rig.Position()
		st.Centroid = h.Rig.Centroid()
		st.Boundary = h.Rig.Boundary()
		st.Bounds = h.Rig.Bounds()
		if trials, err := h.Rig.Trials(); err == nil {
			st.Trials = len(trials)
		}
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleTrials returns the trial history.
func (h *Handlers) HandleTrials(w http.ResponseWriter, r *http.Request) {
	if h.Rig == nil {
		writeJSON(w, http.StatusOK, []balance.Trial{})
		return
	}
	trials, err := h.Rig.Trials()
	if err != nil {
		http.Error(w, "read trials: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if trials == nil {
		trials = []balance.Trial{}
	}
	writeJSON(w, http.StatusOK, trials)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleLevel handles POST /level to start a levelling run.
func (h *Handlers) HandleLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LevelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateLevelRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.RunLevel == nil {
		http.Error(w, "levelling not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "levelling already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(h.baseCtx)
	h.running = true
	h.cancel = cancel
	h.lastErr = ""
	h.runs.Add(1)
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer h.runs.Done()
		defer cancel()
		best, err := h.RunLevel(ctx, req)

		h.runningMu.Lock()
		h.running = false
		h.cancel = nil
		if best.Trials > 0 {
			h.best = &best
		}
		if err != nil {
			h.lastErr = err.Error()
		}
		h.runningMu.Unlock()

		if err != nil {
			h.Broadcaster.Broadcast(LevelError, "Levelling failed: "+err.Error())
			debug.Error(err)
			return
		}
		h.Broadcaster.Broadcast(LevelInfo, fmt.Sprintf("Levelling complete: best (%d,%d) cost %.3f", best.X, best.Y, best.Cost))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStop handles POST /level/stop. The run ends after its current
// trial.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.runningMu.Lock()
	cancel := h.cancel
	h.runningMu.Unlock()

	if cancel == nil {
		http.Error(w, "no levelling in progress", http.StatusConflict)
		return
	}
	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// StopAndWait cancels a levelling run in progress and blocks until it has
// returned, so the rig can be closed afterwards.
func (h *Handlers) StopAndWait() {
	h.runningMu.Lock()
	cancel := h.cancel
	h.runningMu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.runs.Wait()
}

// Running reports whether a levelling run is in progress.
func (h *Handlers) Running() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
