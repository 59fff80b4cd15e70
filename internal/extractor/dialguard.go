package extractor

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"pagesum/internal/domain"
	"syscall"
	"time"
)

// reservedPrefixes are non-public ranges that netip.Addr has no predicate for.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

// publicAddr reports whether addr is routable on the public internet.
func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() {
		return false
	}

	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return false
		}
	}

	return true
}

// refusePrivateDial runs after name resolution, so it sees the address that is actually dialed and a DNS
// answer pointing at an internal host is refused as well.
func refusePrivateDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: dial address %q: %w", domain.ErrExtractionFailed, address, err)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: dial address %q: %w", domain.ErrExtractionFailed, address, err)
	}

	if !publicAddr(addr) {
		return fmt.Errorf("%w: refusing to fetch from non-public address %s", domain.ErrExtractionFailed, addr)
	}

	return nil
}

// newFetchClient builds the page client. Unless allowPrivate is set, it refuses to connect to loopback,
// private, link-local and other non-public addresses, and it ignores proxy settings so the check sees the
// real destination.
func newFetchClient(timeout time.Duration, allowPrivate bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // Stdlib default.

	if !allowPrivate {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   refusePrivateDial,
		}
		transport.DialContext = dialer.DialContext
		transport.Proxy = nil
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}
