// Package netinfo holds the host-level helpers the server needs at startup:
// binding the port, listing reachable addresses and opening a browser.
package netinfo

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"syscall"

	"github.com/pkg/browser"
)

// ErrPortInUse is returned by Listen when another process owns the port.
var ErrPortInUse = errors.New("port is already in use")

// Listen binds the TCP port on all interfaces.
func Listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("port %d: %w", port, ErrPortInUse)
		}
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return ln, nil
}

// LocalIPv4 lists the non-loopback IPv4 addresses of interfaces that are up.
func LocalIPv4() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ipv4s(addrs)...)
	}
	sort.Strings(out)
	return out, nil
}

func ipv4s(addrs []net.Addr) []string {
	var out []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}
	return out
}

// OpenBrowser asks the desktop to open url. Headless hosts return an error
// which callers are expected to log and ignore.
func OpenBrowser(url string) error {
	browser.Stdout = nil
	browser.Stderr = nil
	return browser.OpenURL(url)
}
