// Package health provides readiness state tracking, the durable-store health
// flag, and HTTP health check handlers.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks the readiness state of the engine and whether the last
// durable-store operation succeeded. It is safe for concurrent use.
type Checker struct {
	state atomic.Int32

	mu          sync.Mutex
	storeFailed bool
	storeErr    string
	storeOp     string
	failedAt    time.Time
}

// NewChecker creates a Checker in the Starting state with a healthy store.
func NewChecker() *Checker {
	return &Checker{}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// RecordStoreFailure raises the store health flag.
func (c *Checker) RecordStoreFailure(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeFailed = true
	c.storeOp = op
	c.storeErr = err.Error()
	c.failedAt = time.Now()
}

// RecordStoreSuccess clears the store health flag.
func (c *Checker) RecordStoreSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeFailed = false
	c.storeOp = ""
	c.storeErr = ""
	c.failedAt = time.Time{}
}

// StoreStatus describes the durable store health flag.
type StoreStatus struct {
	Healthy  bool      `json:"healthy"`
	Op       string    `json:"op,omitempty"`
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failed_at,omitzero"`
}

// Store returns the current store health.
func (c *Checker) Store() StoreStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return StoreStatus{
		Healthy:  !c.storeFailed,
		Op:       c.storeOp,
		Error:    c.storeErr,
		FailedAt: c.failedAt,
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status string       `json:"status"`
	Store  *StoreStatus `json:"store,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and 503 when starting or draining. A degraded store is reported in the
// body but does not fail readiness; the engine keeps serving rooms.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		store := c.Store()
		resp := healthResponse{Status: c.State(), Store: &store}
		if c.IsReady() {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
