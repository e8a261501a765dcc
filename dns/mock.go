package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver for tests. Record maps are keyed by FQDN
// with the trailing dot.
type MockResolver struct {
	A    map[string][]string
	AAAA map[string][]string
	MX   map[string][]*net.MX

	// Fail lists queries that return ErrDNSServFail, as "type name"
	// with a lowercase type, e.g. "mx example.com.".
	Fail []string

	// AllAuthentic marks every answer DNSSEC-authentic.
	AllAuthentic bool
}

var _ Resolver = MockResolver{}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// LookupMX returns the configured MX records for the given domain.
func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureFQDN(name)

	if err := ctx.Err(); err != nil {
		return Result[*net.MX]{}, err
	}
	if slices.Contains(r.Fail, "mx "+fqdn) {
		return Result[*net.MX]{}, ErrDNSServFail
	}

	records := r.MX[fqdn]
	if len(records) == 0 {
		return Result[*net.MX]{Authentic: r.AllAuthentic}, ErrDNSNotFound
	}
	return Result[*net.MX]{Records: records, Authentic: r.AllAuthentic}, nil
}

// LookupIP returns the configured A and AAAA records for the domain.
func (r MockResolver) LookupIP(ctx context.Context, domain string) (Result[net.IP], error) {
	fqdn := ensureFQDN(domain)

	if err := ctx.Err(); err != nil {
		return Result[net.IP]{}, err
	}
	if slices.Contains(r.Fail, "a "+fqdn) || slices.Contains(r.Fail, "aaaa "+fqdn) {
		return Result[net.IP]{}, ErrDNSServFail
	}

	var ips []net.IP
	for _, ip := range r.A[fqdn] {
		ips = append(ips, net.ParseIP(ip))
	}
	for _, ip := range r.AAAA[fqdn] {
		ips = append(ips, net.ParseIP(ip))
	}

	if len(ips) == 0 {
		return Result[net.IP]{Authentic: r.AllAuthentic}, ErrDNSNotFound
	}
	return Result[net.IP]{Records: ips, Authentic: r.AllAuthentic}, nil
}
