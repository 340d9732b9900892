package rpc

import (
	"sync"

	"GProject/service/protocol"
)

// Handler is an RPC method: positional raw args in, tagged result out.
// Handlers run concurrently against the same session; they must be safe
// for that.
type Handler func(ctx *Context, args []protocol.RawArg) protocol.Result

// Routing maps "unit.method" keys to handlers. The table is assembled
// once at process start; Swap replaces it wholesale under the write
// lock, which is the supported reload path.
type Routing struct {
	mu     sync.RWMutex
	routes map[string]Handler
}

func NewRouting() *Routing {
	return &Routing{routes: make(map[string]Handler)}
}

func (r *Routing) Register(unit, method string, h Handler) {
	r.mu.Lock()
	r.routes[unit+"."+method] = h
	r.mu.Unlock()
}

func (r *Routing) Lookup(unit, method string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.routes[unit+"."+method]
	r.mu.RUnlock()
	return h, ok
}

// Swap atomically replaces the whole table.
func (r *Routing) Swap(routes map[string]Handler) {
	next := make(map[string]Handler, len(routes))
	for k, v := range routes {
		next[k] = v
	}
	r.mu.Lock()
	r.routes = next
	r.mu.Unlock()
}

func (r *Routing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
