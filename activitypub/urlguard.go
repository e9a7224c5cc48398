package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
)

// ErrUnsafeURL is returned for any destination the guard refuses.
var ErrUnsafeURL = errors.New("unsafe remote url")

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLChecker decides whether a URL may be contacted.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",       // "this" network
	"10.0.0.0/8",      // private
	"100.64.0.0/10",   // carrier-grade NAT
	"127.0.0.0/8",     // loopback
	"169.254.0.0/16",  // link-local
	"172.16.0.0/12",   // private
	"192.0.0.0/24",    // IETF protocol assignments
	"192.0.2.0/24",    // TEST-NET-1
	"192.168.0.0/16",  // private
	"198.18.0.0/15",   // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"224.0.0.0/4",     // multicast
	"240.0.0.0/4",     // reserved, broadcast
	"::/128",
	"::1/128",
	"64:ff9b::/96", // NAT64
	"fc00::/7",     // unique local
	"fe80::/10",    // link-local
	"ff00::/8",     // multicast
	"2001:db8::/32",
)

var blockedSuffixes = []string{".localhost", ".local", ".internal", ".localdomain"}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// IsBlockedIP reports whether addr falls in a range that federation must
// never reach. IPv4-mapped IPv6 addresses are judged by their IPv4 form.
func IsBlockedIP(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// URLGuard is the SSRF filter in front of every outbound request whose
// destination came from remote input.
type URLGuard struct {
	Resolver Resolver
}

func NewURLGuard() *URLGuard {
	return &URLGuard{Resolver: net.DefaultResolver}
}

// Check returns nil when rawURL is safe to contact, otherwise an error
// wrapping ErrUnsafeURL.
func (g *URLGuard) Check(ctx context.Context, rawURL string) error {
	err := g.check(ctx, rawURL)
	if err != nil {
		guardRejectionsTotal.Inc()
	}
	return err
}

func (g *URLGuard) check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: embedded credentials", ErrUnsafeURL)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedIP(addr) {
			return fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, addr)
		}
		return nil
	}

	name, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return fmt.Errorf("%w: invalid hostname %q", ErrUnsafeURL, host)
	}
	name = strings.ToLower(name)
	if !strings.Contains(name, ".") {
		return fmt.Errorf("%w: bare hostname %q", ErrUnsafeURL, name)
	}
	if name == "localhost" {
		return fmt.Errorf("%w: localhost", ErrUnsafeURL)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return fmt.Errorf("%w: reserved suffix %s", ErrUnsafeURL, suffix)
		}
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, name)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: cannot resolve %s", ErrUnsafeURL, name)
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok || IsBlockedIP(addr) {
			return fmt.Errorf("%w: %s resolves to blocked address %s", ErrUnsafeURL, name, a.IP)
		}
	}
	return nil
}

// IsSafeRemoteURL is the boolean form of Check. Rejections are logged.
func (g *URLGuard) IsSafeRemoteURL(ctx context.Context, rawURL string) bool {
	if err := g.Check(ctx, rawURL); err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("Refusing outbound request")
		return false
	}
	return true
}

// safeControl runs after DNS resolution on the address actually being
// dialled, so a rebinding answer cannot slip past Check.
func safeControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if IsBlockedIP(addr) {
		return fmt.Errorf("%w: dial to %s", ErrUnsafeURL, addr)
	}
	return nil
}

// NewSafeHTTPClient returns a client whose dialer refuses blocked
// addresses and whose redirects are re-checked by checker.
func NewSafeHTTPClient(checker URLChecker, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   safeControl,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: GuardRedirects(checker),
	}
}

// GuardRedirects re-runs the guard on every redirect hop.
func GuardRedirects(checker URLChecker) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("stopped after 5 redirects")
		}
		return checker.Check(req.Context(), req.URL.String())
	}
}
