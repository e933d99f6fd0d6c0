package netio

import (
	"net"
	"time"

	"github.com/hiplane/hipd/internal/hiplog"
)

// SystemAddresses is the AddressEnumerator backed by the kernel's
// interface table, polled periodically since there is no portable
// netlink-equivalent in the standard library to subscribe to address
// changes directly.
type SystemAddresses struct {
	pollInterval time.Duration
}

// NewSystemAddresses returns an enumerator that polls the local
// interface table every pollInterval looking for changes.
func NewSystemAddresses(pollInterval time.Duration) *SystemAddresses {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SystemAddresses{pollInterval: pollInterval}
}

// LocalAddresses returns every non-loopback unicast IP address bound
// to a local interface.
func (s *SystemAddresses) LocalAddresses() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		out = append(out, ipNet.IP)
	}
	return out, nil
}

// Watch polls LocalAddresses every pollInterval and invokes onChange
// whenever the set differs from the previous poll. The returned stop
// function ends the polling goroutine.
func (s *SystemAddresses) Watch(onChange func([]net.IP)) (stop func(), err error) {
	prev, err := s.LocalAddresses()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				cur, err := s.LocalAddresses()
				if err != nil {
					hiplog.GetLogger().WithError(err).Warn("netio: address poll failed")
					continue
				}
				if !sameAddressSet(prev, cur) {
					prev = cur
					onChange(cur)
				}
			}
		}
	}()
	return func() { close(done) }, nil
}

func sameAddressSet(a, b []net.IP) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, ip := range a {
		seen[ip.String()] = true
	}
	for _, ip := range b {
		if !seen[ip.String()] {
			return false
		}
	}
	return true
}
