package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendQueueDepth = 256
)

// peer is one socket in a room. Frames queue on send and a dedicated
// writer drains them; a peer whose queue fills is disconnected.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.send) })
}

// room fans frames out to every peer, sender included.
type room struct {
	name  string
	peers map[*peer]struct{}
}

// rooms tracks live rooms by tab name. Empty rooms are removed.
type rooms struct {
	mu      sync.RWMutex
	byName  map[string]*room
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

func newRooms(logger *zap.Logger, metrics *monitoring.Metrics) *rooms {
	return &rooms{
		byName:  make(map[string]*room),
		logger:  logger,
		metrics: metrics,
	}
}

func (r *rooms) join(name string, p *peer) {
	r.mu.Lock()
	rm, ok := r.byName[name]
	if !ok {
		rm = &room{name: name, peers: make(map[*peer]struct{})}
		r.byName[name] = rm
	}
	rm.peers[p] = struct{}{}
	count := len(r.byName)
	size := len(rm.peers)
	r.mu.Unlock()

	r.metrics.SetRelayRooms(count)
	r.logger.Debug("Peer joined", zap.String("tab", name), zap.Int("peers", size))
}

func (r *rooms) leave(name string, p *peer) {
	r.mu.Lock()
	rm, ok := r.byName[name]
	if ok {
		delete(rm.peers, p)
		if len(rm.peers) == 0 {
			delete(r.byName, name)
		}
	}
	count := len(r.byName)
	r.mu.Unlock()

	p.close()
	r.metrics.SetRelayRooms(count)
	r.logger.Debug("Peer left", zap.String("tab", name))
}

func (r *rooms) broadcast(name string, frame []byte) {
	var slow []*peer

	r.mu.RLock()
	if rm, ok := r.byName[name]; ok {
		for p := range rm.peers {
			select {
			case p.send <- frame:
				r.metrics.RecordRelayFrame("out")
			default:
				slow = append(slow, p)
			}
		}
	}
	r.mu.RUnlock()

	for _, p := range slow {
		r.logger.Warn("Dropping slow peer", zap.String("tab", name))
		r.leave(name, p)
	}
}

// sizes returns peer counts per room.
func (r *rooms) sizes() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.byName))
	for name, rm := range r.byName {
		out[name] = len(rm.peers)
	}
	return out
}

func (r *rooms) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// closeAll disconnects every peer.
func (r *rooms) closeAll() {
	r.mu.Lock()
	var peers []*peer
	for _, rm := range r.byName {
		for p := range rm.peers {
			peers = append(peers, p)
		}
	}
	r.byName = make(map[string]*room)
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	r.metrics.SetRelayRooms(0)
}
