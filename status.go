package reflector

import (
	"slices"
	"time"

	"github.com/opd-ai/reflector/session"
)

// NodeStatus describes one connected session.
type NodeStatus struct {
	ID            uint32 `json:"id"`
	Callsign      string `json:"callsign,omitempty"`
	Address       string `json:"address"`
	UDPPort       uint16 `json:"udp_port,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Blocked       bool   `json:"blocked"`
	Talking       bool   `json:"talking"`
	Received      uint64 `json:"received,omitempty"`
	Lost          uint64 `json:"lost,omitempty"`
	Stale         uint64 `json:"stale,omitempty"`
}

// Status is a point-in-time view of the reflector, safe to read from any goroutine.
type Status struct {
	Nodes     []NodeStatus `json:"nodes"`
	Talker    string       `json:"talker,omitempty"`
	Sessions  int          `json:"sessions"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Status returns the latest snapshot. It is refreshed by the loop after
// membership or talker changes and on every tick.
func (r *Reflector) Status() Status {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	st := r.status
	st.Nodes = slices.Clone(r.status.Nodes)
	return st
}

// NodeList returns the callsigns of the authenticated nodes, sorted.
func (r *Reflector) NodeList() []string {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	nodes := make([]string, 0, len(r.status.Nodes))
	for _, n := range r.status.Nodes {
		if n.Authenticated {
			nodes = append(nodes, n.Callsign)
		}
	}
	slices.Sort(nodes)
	return nodes
}

// refreshStatus rebuilds the snapshot from loop state. Loop goroutine only.
func (r *Reflector) refreshStatus() {
	current := r.arbiter.Talker()
	st := Status{
		Nodes:     make([]NodeStatus, 0, r.registry.Len()),
		Sessions:  r.registry.Len(),
		StartedAt: r.startedAt,
		UpdatedAt: r.timeProvider.Now(),
	}
	if current != nil {
		st.Talker = current.Callsign()
	}

	authenticated := 0
	r.registry.Each(func(s session.Session) {
		ip, port := s.RemoteEndpoint()
		n := NodeStatus{
			ID:            s.ID(),
			Callsign:      s.Callsign(),
			UDPPort:       port,
			Authenticated: s.Authenticated(),
			Blocked:       s.IsBlocked(),
			Talking:       s == current,
		}
		n.Received, n.Lost, n.Stale = s.RxStats()
		if ip != nil {
			n.Address = ip.String()
		}
		if n.Authenticated {
			authenticated++
		}
		st.Nodes = append(st.Nodes, n)
	})

	r.statusMu.Lock()
	r.status = st
	r.statusMu.Unlock()

	r.statusDirty = false
	r.metrics.SetSessions(st.Sessions, authenticated)
}
