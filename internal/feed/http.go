package feed

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/scope"
	"github.com/xtxerr/powerscope/internal/session"
	"github.com/xtxerr/powerscope/internal/wire"
)

const (
	// writeWait bounds one write to a subscriber.
	writeWait = 10 * time.Second

	// maxRequestBody limits POST bodies.
	maxRequestBody = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
}

// Handler returns the HTTP surface.
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", f.handleSnapshot)
	mux.HandleFunc("GET /api/status", f.handleStatus)
	mux.HandleFunc("GET /api/measurements", f.handleMeasurements)
	mux.HandleFunc("GET /api/control", f.handleGetControl)
	mux.HandleFunc("POST /api/control", f.handleSetControl)
	mux.HandleFunc("POST /api/trigger", f.handleTrigger)
	mux.HandleFunc("GET /ws", f.handleWebsocket)
	if f.cfg.Metrics != nil {
		mux.Handle("GET /metrics", f.cfg.Metrics.Handler())
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewValidation("body", err.Error())
	}
	return nil
}

func (f *Feed) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	mode, err := scope.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot(mode))
}

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	Phase       session.Phase  `json:"phase"`
	Sessions    uint64         `json:"sessions"`
	Subscribers int            `json:"subscribers"`
	Scope       scopeStatus    `json:"scope"`
	Session     *sessionStatus `json:"session,omitempty"`
}

type scopeStatus struct {
	Frames      uint64    `json:"frames"`
	Length      int       `json:"length"`
	Compactions uint64    `json:"compactions"`
	Trimmed     uint64    `json:"trimmed"`
	Stalled     bool      `json:"stalled"`
	Stalls      uint64    `json:"stalls"`
	LastFrameAt time.Time `json:"last_frame_at"`
}

type sessionStatus struct {
	ID        string    `json:"id"`
	Peer      string    `json:"peer"`
	StartedAt time.Time `json:"started_at"`
	Frames    uint64    `json:"frames"`
	BytesIn   int64     `json:"bytes_in"`
	BytesOut  int64     `json:"bytes_out"`
}

func (f *Feed) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := f.cfg.Source.State().Stats()
	resp := statusResponse{
		Phase:       f.cfg.Source.Phase(),
		Sessions:    f.cfg.Source.Sessions(),
		Subscribers: f.Subscribers(),
		Scope: scopeStatus{
			Frames:      st.Frames,
			Length:      st.Length,
			Compactions: st.Compactions,
			Trimmed:     st.Trimmed,
			Stalled:     st.Stalled,
			Stalls:      st.Stalls,
			LastFrameAt: st.LastFrameAt,
		},
	}
	if sess := f.cfg.Source.Session(); sess != nil {
		ss := sess.Stats()
		resp.Session = &sessionStatus{
			ID:        ss.ID,
			Peer:      ss.Peer,
			StartedAt: ss.StartedAt,
			Frames:    ss.Frames,
			BytesIn:   ss.BytesIn,
			BytesOut:  ss.BytesOut,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Feed) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	if f.cfg.Measure == nil {
		writeError(w, http.StatusNotFound, errors.New("measurements disabled"))
		return
	}
	if r.URL.Query().Get("current") == "true" {
		writeJSON(w, http.StatusOK, f.cfg.Measure.Current())
		return
	}
	writeJSON(w, http.StatusOK, f.cfg.Measure.Report())
}

// controlRequest sets all six values, or three when Group is 1 or 2.
type controlRequest struct {
	Group  int       `json:"group,omitempty"`
	Values []float64 `json:"values"`
}

type controlResponse struct {
	Values  wire.ControlVector `json:"values"`
	Version uint64             `json:"version"`
}

func (f *Feed) controlResponse() controlResponse {
	return controlResponse{
		Values:  f.cfg.Control.ControlVector(),
		Version: f.cfg.Control.Version(),
	}
}

func (f *Feed) handleGetControl(w http.ResponseWriter, r *http.Request) {
	if f.cfg.Control == nil {
		writeError(w, http.StatusNotFound, errors.New("control disabled"))
		return
	}
	writeJSON(w, http.StatusOK, f.controlResponse())
}

func (f *Feed) handleSetControl(w http.ResponseWriter, r *http.Request) {
	if f.cfg.Control == nil {
		writeError(w, http.StatusNotFound, errors.New("control disabled"))
		return
	}

	var req controlRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch req.Group {
	case 0:
		if len(req.Values) != wire.ControlFields {
			writeError(w, http.StatusBadRequest,
				errors.NewInvalidValue("values", len(req.Values), "need 6 values"))
			return
		}
		var v wire.ControlVector
		copy(v[:], req.Values)
		f.cfg.Control.Set(v)
	default:
		if len(req.Values) != 3 {
			writeError(w, http.StatusBadRequest,
				errors.NewInvalidValue("values", len(req.Values), "need 3 values for a group"))
			return
		}
		if err := f.cfg.Control.SetGroup(req.Group, [3]float64(req.Values)); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	log.Info("control updated", "values", f.cfg.Control.ControlVector())
	writeJSON(w, http.StatusOK, f.controlResponse())
}

type triggerRequest struct {
	Channel   string   `json:"channel"`
	Threshold *float64 `json:"threshold"`
}

type triggerResponse struct {
	Channel   string  `json:"channel"`
	Threshold float64 `json:"threshold"`
}

func (f *Feed) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ch, err := scope.ParseChannel(req.Channel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Threshold == nil {
		writeError(w, http.StatusBadRequest, errors.NewMissingField("threshold"))
		return
	}
	if math.IsNaN(*req.Threshold) || math.IsInf(*req.Threshold, 0) {
		writeError(w, http.StatusBadRequest,
			errors.NewInvalidValue("threshold", *req.Threshold, "must be finite"))
		return
	}

	if err := f.cfg.Source.SetThreshold(ch, *req.Threshold); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	log.Info("trigger threshold updated", "channel", ch.String(), "threshold", *req.Threshold)
	writeJSON(w, http.StatusOK, triggerResponse{Channel: ch.String(), Threshold: *req.Threshold})
}

// handleWebsocket subscribes a renderer. It gets one snapshot immediately
// and then one per refresh interval.
func (f *Feed) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		kind: kindWebsocket,
		addr: r.RemoteAddr,
		send: make(chan *payload, f.cfg.SendBufferSize),
	}

	if p, err := f.encode(f.Snapshot(f.mode), true, false); err == nil {
		s.send <- p
	}
	if !f.hub.add(s) {
		conn.Close()
		return
	}
	log.Info("websocket subscriber connected", "address", s.addr)

	go f.writePump(conn, s)

	// Read pump: only control frames are expected. Any error ends the
	// subscription.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.hub.remove(s)
}

// writePump pumps snapshots from the hub to the websocket connection.
func (f *Feed) writePump(conn *websocket.Conn, s *subscriber) {
	defer func() {
		conn.Close()
		log.Info("websocket subscriber disconnected", "address", s.addr)
	}()

	for p := range s.send {
		if p.json == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, p.json); err != nil {
			f.hub.remove(s)
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
