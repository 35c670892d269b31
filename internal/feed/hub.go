package feed

import (
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/powerscope/internal/metrics"
	"github.com/xtxerr/powerscope/internal/scope"
)

// payload is one encoded snapshot. Only the encodings some subscriber
// needs are filled in.
type payload struct {
	json []byte
	msg  *structpb.Struct
}

type subscriberKind int

const (
	kindWebsocket subscriberKind = iota
	kindStream
)

type subscriber struct {
	kind subscriberKind
	addr string
	send chan *payload

	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// hub tracks subscribers and fans snapshots out to them. A subscriber
// whose queue is full misses the snapshot.
type hub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool

	metrics *metrics.Collector
}

func newHub(m *metrics.Collector) *hub {
	return &hub{
		clients: make(map[*subscriber]struct{}),
		metrics: m,
	}
}

// add registers a subscriber. It returns false after closeAll.
func (h *hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[s] = struct{}{}
	h.metrics.SetSubscribers(len(h.clients))
	log.Debug("subscriber added", "address", s.addr, "total", len(h.clients))
	return true
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		h.metrics.SetSubscribers(len(h.clients))
		log.Debug("subscriber removed", "address", s.addr, "total", len(h.clients))
	}
	h.mu.Unlock()
	s.close()
}

func (h *hub) counts() (websocket, stream int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.clients {
		if s.kind == kindStream {
			stream++
		} else {
			websocket++
		}
	}
	return websocket, stream
}

func (h *hub) broadcast(p *payload) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.clients {
		select {
		case s.send <- p:
			h.metrics.SnapshotSent()
		default:
			h.metrics.SnapshotDropped()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.clients {
		delete(h.clients, s)
		s.close()
	}
	h.metrics.SetSubscribers(0)
}

// encode renders the snapshot in the requested encodings.
func (f *Feed) encode(snap scope.Snapshot, asJSON, asProto bool) (*payload, error) {
	p := &payload{}
	if asJSON {
		b, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		p.json = b
	}
	if asProto {
		msg, err := snapshotStruct(snap)
		if err != nil {
			return nil, err
		}
		p.msg = msg
	}
	return p, nil
}
