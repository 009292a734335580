package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": s.d.Registry.Status(id)})
}

// listJobs reads the durable history when one is configured and the
// in-memory registry otherwise.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:    model.JobStatus(q.Get("status")),
		Kind:      model.JobKind(q.Get("kind")),
		ModelName: q.Get("model_name"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, model.Invalid("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	if s.d.History != nil {
		list, err := s.d.History.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
		return
	}

	list := []model.Job{}
	for _, j := range s.d.Registry.List() {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if filter.ModelName != "" && j.ModelName != filter.ModelName {
			continue
		}
		list = append(list, j)
		if filter.Limit > 0 && len(list) == filter.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// progressSocket streams the progress events of one job. The listener is
// attached before the status check, so a job finishing in between is still
// reported exactly once.
func (s *Server) progressSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("api: websocket upgrade", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck

	log := zap.L().With(zap.String("job_id", id))
	sub := s.d.Registry.Subscribe(id)
	defer s.d.Registry.Unsubscribe(sub)

	job, ok := s.d.Registry.Get(id)
	switch {
	case !ok:
		send(conn, model.ProgressEvent{Type: model.EventStatus, Status: string(model.JobStatusUnknown)})
		closeSocket(conn)
		return
	case job.Status.Terminal():
		if !drain(conn, sub.C) {
			send(conn, model.ProgressEvent{Type: model.EventStatus, Status: string(job.Status), Error: job.Error})
		}
		closeSocket(conn)
		return
	}

	// The client sends only keep-alives; reading detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	log.Debug("progress listener attached")
	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				closeSocket(conn)
				return
			}
			if err := send(conn, ev); err != nil {
				log.Debug("progress listener write", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("progress listener detached")
			return
		}
	}
}

// drain forwards whatever is already buffered and reports whether a status
// event was among it.
func drain(conn *websocket.Conn, c <-chan model.ProgressEvent) bool {
	for {
		select {
		case ev, open := <-c:
			if !open {
				return false
			}
			if send(conn, ev) != nil {
				return true
			}
			if ev.Type == model.EventStatus {
				return true
			}
		default:
			return false
		}
	}
}

func send(conn *websocket.Conn, ev model.ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return conn.WriteJSON(ev)
}

func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck
}
