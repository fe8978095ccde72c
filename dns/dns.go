// Package dns resolves names on the worker pool.
//
// Names are converted to their IDNA ASCII form before lookup. Failures
// carry a DNS response code: names that do not exist report NXDOMAIN,
// queries that time out fail with a timeout error and everything else
// reports SERVFAIL.
package dns

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/future"
	"github.com/caffeineduck/vertigo/value"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
)

const DefaultTimeout = 5 * time.Second

// ResponseCode is a DNS response code.
type ResponseCode int

const (
	NoError ResponseCode = iota
	FormError
	ServFail
	NXDomain
	NotImpl
	Refused
	YXDomain
	YXRRSet
	NXRRSet
	NotAuth
	NotZone
)

var ResponseCodes = value.NewEnum[ResponseCode]("DnsResponseCode",
	"NOERROR", "FORMERROR", "SERVFAIL", "NXDOMAIN", "NOTIMPL", "REFUSED",
	"YXDOMAIN", "YXRRSET", "NXRRSET", "NOTAUTH", "NOTZONE")

func (c ResponseCode) String() string {
	return ResponseCodes.Name(c)
}

// Error is a failed query.
type Error struct {
	Code  ResponseCode
	Name  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dns %s: %s", e.Name, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// MxRecord is a mail exchanger.
type MxRecord struct {
	Priority int
	Name     string
}

// SrvRecord is a service location.
type SrvRecord struct {
	Priority int
	Weight   int
	Port     int
	Name     string
	Protocol string
	Service  string
	Target   string
}

type options struct {
	server  string
	timeout time.Duration
	pool    *eventloop.WorkerPool
}

// Option configures a Client.
type Option func(*options)

// WithServer sends every query to host:port instead of the system
// resolver's servers.
func WithServer(addr string) Option {
	return func(o *options) {
		o.server = addr
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func WithWorkerPool(p *eventloop.WorkerPool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// Client issues DNS queries.
type Client struct {
	group    *eventloop.Group
	opts     options
	resolver *net.Resolver
}

// NewClient creates a client running its queries on g.
func NewClient(g *eventloop.Group, opts ...Option) *Client {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = g.Pool()
	}
	r := &net.Resolver{PreferGo: true}
	if o.server != "" {
		server := o.server
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		r.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, server)
		}
	}
	return &Client{group: g, opts: o, resolver: r}
}

func query[T any](c *Client, name string, fn func(ctx context.Context, name string) (T, error)) *future.Future[T] {
	return eventloop.ExecuteBlocking(c.group.OrCreate(), c.opts.pool, func() (T, error) {
		var zero T
		ascii, err := idna.Lookup.ToASCII(name)
		if err != nil {
			return zero, errors.Wrap(errors.PhaseOperation, errors.KindInvalidData, err, "invalid name "+name)
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.timeout)
		defer cancel()
		v, err := fn(ctx, ascii)
		if err != nil {
			Logger().Debug("dns query failed", zap.String("name", ascii), zap.Error(err))
			return zero, mapError(ascii, err)
		}
		return v, nil
	}, false)
}

func mapError(name string, err error) error {
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return &Error{Code: NXDomain, Name: name, Cause: err}
		case dnsErr.IsTimeout:
			return errors.Timeout(errors.PhaseOperation, "dns query for %s timed out", name)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(errors.PhaseOperation, "dns query for %s timed out", name)
	}
	return &Error{Code: ServFail, Name: name, Cause: err}
}

func filterIPs(ips []net.IP, want func(net.IP) bool) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if want(ip) {
			out = append(out, ip.String())
		}
	}
	return out
}

func isV4(ip net.IP) bool { return ip.To4() != nil }
func isV6(ip net.IP) bool { return ip.To4() == nil }

func first(name string, addrs []string) (string, error) {
	if len(addrs) == 0 {
		return "", &Error{Code: NXDomain, Name: name}
	}
	return addrs[0], nil
}

// Lookup returns the first address of name, IPv4 or IPv6.
func (c *Client) Lookup(name string) *future.Future[string] {
	return query(c, name, func(ctx context.Context, n string) (string, error) {
		ips, err := c.resolver.LookupIP(ctx, "ip", n)
		if err != nil {
			return "", err
		}
		return first(n, filterIPs(ips, func(net.IP) bool { return true }))
	})
}

// Lookup4 returns the first IPv4 address of name.
func (c *Client) Lookup4(name string) *future.Future[string] {
	return query(c, name, func(ctx context.Context, n string) (string, error) {
		ips, err := c.resolver.LookupIP(ctx, "ip4", n)
		if err != nil {
			return "", err
		}
		return first(n, filterIPs(ips, isV4))
	})
}

// Lookup6 returns the first IPv6 address of name.
func (c *Client) Lookup6(name string) *future.Future[string] {
	return query(c, name, func(ctx context.Context, n string) (string, error) {
		ips, err := c.resolver.LookupIP(ctx, "ip6", n)
		if err != nil {
			return "", err
		}
		return first(n, filterIPs(ips, isV6))
	})
}

func (c *Client) ResolveA(name string) *future.Future[[]string] {
	return query(c, name, func(ctx context.Context, n string) ([]string, error) {
		ips, err := c.resolver.LookupIP(ctx, "ip4", n)
		if err != nil {
			return nil, err
		}
		return filterIPs(ips, isV4), nil
	})
}

func (c *Client) ResolveAAAA(name string) *future.Future[[]string] {
	return query(c, name, func(ctx context.Context, n string) ([]string, error) {
		ips, err := c.resolver.LookupIP(ctx, "ip6", n)
		if err != nil {
			return nil, err
		}
		return filterIPs(ips, isV6), nil
	})
}

func (c *Client) ResolveCNAME(name string) *future.Future[[]string] {
	return query(c, name, func(ctx context.Context, n string) ([]string, error) {
		cname, err := c.resolver.LookupCNAME(ctx, n)
		if err != nil {
			return nil, err
		}
		return []string{cname}, nil
	})
}

// ResolveMX returns the mail exchangers ordered by priority.
func (c *Client) ResolveMX(name string) *future.Future[[]*MxRecord] {
	return query(c, name, func(ctx context.Context, n string) ([]*MxRecord, error) {
		mxs, err := c.resolver.LookupMX(ctx, n)
		if err != nil {
			return nil, err
		}
		out := make([]*MxRecord, len(mxs))
		for i, mx := range mxs {
			out[i] = &MxRecord{Priority: int(mx.Pref), Name: mx.Host}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
		return out, nil
	})
}

func (c *Client) ResolveTXT(name string) *future.Future[[]string] {
	return query(c, name, c.resolver.LookupTXT)
}

func (c *Client) ResolveNS(name string) *future.Future[[]string] {
	return query(c, name, func(ctx context.Context, n string) ([]string, error) {
		nss, err := c.resolver.LookupNS(ctx, n)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(nss))
		for i, ns := range nss {
			out[i] = ns.Host
		}
		return out, nil
	})
}

// ResolveSRV resolves a service name such as "_http._tcp.example.com".
func (c *Client) ResolveSRV(name string) *future.Future[[]*SrvRecord] {
	return query(c, name, func(ctx context.Context, n string) ([]*SrvRecord, error) {
		_, srvs, err := c.resolver.LookupSRV(ctx, "", "", n)
		if err != nil {
			return nil, err
		}
		service, proto := splitService(n)
		out := make([]*SrvRecord, len(srvs))
		for i, s := range srvs {
			out[i] = &SrvRecord{
				Priority: int(s.Priority),
				Weight:   int(s.Weight),
				Port:     int(s.Port),
				Name:     n,
				Protocol: proto,
				Service:  service,
				Target:   s.Target,
			}
		}
		return out, nil
	})
}

// ReverseLookup returns the first name of addr.
func (c *Client) ReverseLookup(addr string) *future.Future[string] {
	return eventloop.ExecuteBlocking(c.group.OrCreate(), c.opts.pool, func() (string, error) {
		if net.ParseIP(addr) == nil {
			return "", errors.InvalidData(errors.PhaseOperation, "not an IP address: "+addr)
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.timeout)
		defer cancel()
		names, err := c.resolver.LookupAddr(ctx, addr)
		if err != nil {
			return "", mapError(addr, err)
		}
		return first(addr, names)
	}, false)
}

func splitService(name string) (service, proto string) {
	parts := strings.SplitN(name, ".", 3)
	if len(parts) == 3 && strings.HasPrefix(parts[0], "_") && strings.HasPrefix(parts[1], "_") {
		return parts[0][1:], parts[1][1:]
	}
	return "", ""
}
