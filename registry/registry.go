// Package registry tracks live connections per board for local broadcast.
package registry

import "sync"

// Conn is the transport handle the registry holds. Identity comes from ID,
// never from pointer equality, so value-like handles stay comparable.
type Conn interface {
	ID() string
	Send(data []byte) error
	Ping() error
	Close() error
}

// Registry maps board keys to the set of connections currently joined.
// It is safe for concurrent use; every connection is served on its own
// goroutine and the relay loop reads it as well.
type Registry struct {
	mu     sync.RWMutex
	boards map[string]map[string]Conn
	joined map[string]string // conn id -> board
}

func New() *Registry {
	return &Registry{
		boards: make(map[string]map[string]Conn),
		joined: make(map[string]string),
	}
}

// Register adds conn to the board's set, removing it from any board it was
// previously joined to. A connection is joined to at most one board.
func (r *Registry) Register(board string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn.ID())
	set := r.boards[board]
	if set == nil {
		set = make(map[string]Conn)
		r.boards[board] = set
	}
	set[conn.ID()] = conn
	r.joined[conn.ID()] = board
}

// Unregister removes conn from whatever board it is joined to. No-op if the
// connection was never registered.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn.ID())
}

func (r *Registry) removeLocked(id string) {
	board, ok := r.joined[id]
	if !ok {
		return
	}
	delete(r.joined, id)
	set := r.boards[board]
	delete(set, id)
	if len(set) == 0 {
		delete(r.boards, board)
	}
}

// ConnectionsOf returns a copy of the board's connection set. Empty slice
// for unknown boards. Callers iterate the copy freely; the registry may be
// mutated concurrently.
func (r *Registry) ConnectionsOf(board string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.boards[board]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// All returns every registered connection across all boards, for the
// heartbeat sweep.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.joined))
	for _, set := range r.boards {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}
