// Package netiface implements §4.12's periodic local-interface
// enumeration: name/address/netmask/broadcast/hostname/is_local and
// listener-port association, rebuilt on TTL expiry. Grounded on
// original_source/scheduler/network.c.
package netiface

import (
	"net"
	"strings"
	"sync"
	"time"
)

// Interface is one reported local network interface/address pair.
type Interface struct {
	Name         string
	Address      string
	Netmask      string
	Broadcast    string
	Hostname     string
	IsLocal      bool
	ListenerPort int // 0 when no configured listener matches
}

// Listener is a configured bound listener address, used to associate
// interfaces with the port they serve.
type Listener struct {
	IP   net.IP
	Port int
}

// Iface is one OS-reported interface with its addresses already
// resolved, decoupling the enumerator from net.Interface's Addrs()
// (which hits the OS by index and can't be faked in tests).
type Iface struct {
	Name  string
	Flags net.Flags
	Addrs []*net.IPNet
}

// Resolver abstracts reverse DNS and interface enumeration for
// testability; net.DefaultResolver-backed in production.
type Resolver interface {
	Interfaces() ([]Iface, error)
	LookupAddr(addr string) ([]string, error)
}

type netResolver struct{}

func (netResolver) Interfaces() ([]Iface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(raw))
	for _, ifi := range raw {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		var nets []*net.IPNet
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				nets = append(nets, ipNet)
			}
		}
		out = append(out, Iface{Name: ifi.Name, Flags: ifi.Flags, Addrs: nets})
	}
	return out, nil
}
func (netResolver) LookupAddr(addr string) ([]string, error) {
	return net.LookupAddr(addr)
}

// DefaultResolver is the production net-package-backed Resolver.
var DefaultResolver Resolver = netResolver{}

// Enumerator rebuilds the interface list at most once per TTL, per
// §4.12's "list is rebuilt on TTL expiry".
type Enumerator struct {
	resolver        Resolver
	ttl             time.Duration
	hostnameLookups bool
	serverAddress   string
	serverName      string
	listeners       []Listener

	mu      sync.Mutex
	last    time.Time
	cached  []Interface
	primed  bool
}

// NewEnumerator constructs an Enumerator. serverAddress/serverName
// implement §4.12's "configured server address mapped to the
// configured server name" rule; either may be empty to disable it.
func NewEnumerator(resolver Resolver, ttl time.Duration, hostnameLookups bool, serverAddress, serverName string, listeners []Listener) *Enumerator {
	if resolver == nil {
		resolver = DefaultResolver
	}
	return &Enumerator{
		resolver:        resolver,
		ttl:             ttl,
		hostnameLookups: hostnameLookups,
		serverAddress:   serverAddress,
		serverName:      serverName,
		listeners:       listeners,
	}
}

// Enumerate returns the current interface list, rebuilding only if the
// TTL has elapsed since the last rebuild.
func (e *Enumerator) Enumerate(now time.Time) ([]Interface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.primed && now.Sub(e.last) < e.ttl {
		return e.cached, nil
	}

	ifaces, err := e.resolver.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for _, ifi := range ifaces {
		for _, ipNet := range ifi.Addrs {
			out = append(out, e.buildEntry(ifi, ipNet))
		}
	}

	e.cached = out
	e.last = now
	e.primed = true
	return out, nil
}

func (e *Enumerator) buildEntry(ifi Iface, ipNet *net.IPNet) Interface {
	entry := Interface{
		Name:    ifi.Name,
		Address: ipNet.IP.String(),
		Netmask: net.IP(ipNet.Mask).String(),
	}

	isLoopback := ifi.Flags&net.FlagLoopback != 0
	isPTP := ifi.Flags&net.FlagPointToPoint != 0
	entry.IsLocal = !isLoopback && !isPTP

	if bcast := broadcastAddr(ipNet); bcast != nil {
		entry.Broadcast = bcast.String()
	}

	entry.Hostname = e.resolveHostname(ipNet.IP, isLoopback)
	entry.ListenerPort = e.matchListenerPort(ipNet)
	return entry
}

func (e *Enumerator) resolveHostname(ip net.IP, isLoopback bool) string {
	if isLoopback {
		return "localhost"
	}
	if e.serverAddress != "" && ip.String() == e.serverAddress {
		return e.serverName
	}
	if e.hostnameLookups {
		if names, err := e.resolver.LookupAddr(ip.String()); err == nil && len(names) > 0 {
			return strings.TrimSuffix(names[0], ".")
		}
	}
	return ip.String()
}

func (e *Enumerator) matchListenerPort(ipNet *net.IPNet) int {
	for _, l := range e.listeners {
		if ipNet.Contains(l.IP) {
			return l.Port
		}
	}
	return 0
}

func broadcastAddr(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := ipNet.Mask
	bcast := make(net.IP, len(ip4))
	for i := range ip4 {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}
