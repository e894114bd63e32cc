package server

import (
	"net/http"
	"time"

	"buildings-export/internal/mapview"
	"buildings-export/internal/metrics"
	"buildings-export/internal/worker"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobLister 는 export job 상태 조회 (worker.Manager).
type JobLister interface {
	Status(id string) (worker.Status, bool)
	Statuses() []worker.Status
}

type Handler struct {
	metrics *metrics.Metrics
	view    *mapview.MapView
	jobs    JobLister
}

func NewHandler(m *metrics.Metrics, view *mapview.MapView, jobs JobLister) *Handler {
	return &Handler{
		metrics: m,
		view:    view,
		jobs:    jobs,
	}
}

// Routes
//
// 엔드포인트:
//   - /map     : 현재 map view (layer 요약, 범례 panel, center)
//   - /jobs    : export job 상태 목록, ?id= 로 단건 조회
//   - /metrics : Prometheus exposition
//   - /health  : liveness
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/map", h.HandleMap)
	mux.HandleFunc("/jobs", h.HandleJobs)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return withAccessLog(mux)
}

// NewServer 는 timeout 이 설정된 http.Server 를 만든다.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// HandleMap 은 view 의 Document 를 JSON 으로 돌려준다.
func (h *Handler) HandleMap(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := h.view.WriteJSON(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleJobs 는 job 상태를 돌려준다. 알 수 없는 id 는 404.
func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	var body any
	if id := r.URL.Query().Get("id"); id != "" {
		st, ok := h.jobs.Status(id)
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		body = st
	} else {
		body = h.jobs.Statuses()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}
