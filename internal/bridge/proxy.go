package bridge

import (
	"context"
	"sync"
)

// Proxy calls one command announced by the counterpart.
type Proxy struct {
	command  string
	endpoint *Endpoint
}

// Command returns the remote command name.
func (p *Proxy) Command() string {
	return p.command
}

// Call invokes the remote command and waits for its response.
func (p *Proxy) Call(ctx context.Context, payload any) (Response, error) {
	return p.endpoint.CallRemote(ctx, p.command, payload)
}

type proxyTable struct {
	mu      sync.RWMutex
	proxies map[string]*Proxy
}

func newProxyTable() *proxyTable {
	return &proxyTable{proxies: make(map[string]*Proxy)}
}

// install replaces any proxy for the same command.
func (t *proxyTable) install(p *Proxy) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, replaced := t.proxies[p.command]
	t.proxies[p.command] = p
	return replaced
}

func (t *proxyTable) get(command string) (*Proxy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.proxies[command]
	return p, ok
}

func (t *proxyTable) commands() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.proxies)
}
