// Package dns provides the MX and address resolution used to route
// outgoing mail. Two implementations are provided: DNSResolver, built
// on github.com/miekg/dns with optional DNSSEC validation, and
// StdResolver on the standard library resolver. MockResolver serves
// tests.
package dns

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
)

var (
	// ErrDNSNotFound means the name does not exist (NXDOMAIN) or has
	// no records of the requested type.
	ErrDNSNotFound = errors.New("dns: name not found")

	// ErrDNSServFail means the upstream resolver failed; the lookup
	// may succeed later.
	ErrDNSServFail = errors.New("dns: server failure")

	// ErrDNSRefused means the upstream resolver refused the query.
	ErrDNSRefused = errors.New("dns: query refused")

	// ErrDNSTimeout means the query did not complete in time.
	ErrDNSTimeout = errors.New("dns: query timed out")

	// ErrDNSBogus means DNSSEC validation failed for the response.
	ErrDNSBogus = errors.New("dns: DNSSEC validation failed")
)

// Result carries the records of a lookup together with its DNSSEC
// status. Authentic is only meaningful for resolvers that validate.
type Result[T any] struct {
	Records   []T
	Authentic bool
}

// Resolver answers the lookups the mail routing layer needs.
type Resolver interface {
	// LookupMX retrieves MX records for a domain, unsorted.
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)

	// LookupIP retrieves A and AAAA records for a domain.
	LookupIP(ctx context.Context, domain string) (Result[net.IP], error)
}

// MailHosts resolves the delivery hosts for a domain per RFC 5321
// section 5.1: MX targets sorted by preference, or, when the domain
// has no MX records at all, the domain itself (the implicit MX rule).
// Trailing root dots are stripped from the returned hosts.
func MailHosts(ctx context.Context, r Resolver, domain string) ([]string, error) {
	result, err := r.LookupMX(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrDNSNotFound) {
			return []string{strings.TrimSuffix(domain, ".")}, nil
		}
		return nil, err
	}

	records := append([]*net.MX(nil), result.Records...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		host := strings.TrimSuffix(mx.Host, ".")
		// A single "null MX" record (RFC 7505) means the domain
		// accepts no mail.
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}

	if len(hosts) == 0 {
		return nil, ErrDNSNotFound
	}
	return hosts, nil
}
