// Package mxresolve implements the MX lookup auxiliary interface
// described in spec.md §6: given a domain, return the name of its
// lowest-preference mail exchanger.
package mxresolve

import (
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers MX queries using the system resolver configuration
// (/etc/resolv.conf), with a small TTL cache so a multi-recipient
// bounce storm doesn't issue one query per recipient.
type Resolver struct {
	clientConfig *dns.ClientConfig
	client       *dns.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	host    string
	expires time.Time
}

// New builds a Resolver from the system resolver configuration at
// resolvConfPath (typically "/etc/resolv.conf").
func New(resolvConfPath string) (*Resolver, error) {
	cc, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil {
		return nil, fmt.Errorf("mxresolve: reading %s: %w", resolvConfPath, err)
	}
	return &Resolver{
		clientConfig: cc,
		client:       &dns.Client{Timeout: 5 * time.Second},
		cache:        make(map[string]cacheEntry),
	}, nil
}

// Lookup returns the lowest-preference mail exchanger for domain. If
// the zone has no MX records but resolves to an A address, the domain
// itself is returned as its own implicit exchanger (RFC 5321 §5.1).
// Only A records are queried for this fallback; AAAA is not.
func (r *Resolver) Lookup(domain string) (string, error) {
	if host, ok := r.cacheGet(domain); ok {
		return host, nil
	}

	host, ttl, err := r.queryMX(domain)
	if err != nil {
		return "", err
	}
	if host == "" {
		if ok, err := r.hasAddress(domain); err != nil {
			return "", err
		} else if ok {
			host = domain
			ttl = 300
		}
	}
	if host == "" {
		return "", fmt.Errorf("mxresolve: no mail exchanger for %s", domain)
	}

	r.cachePut(domain, host, ttl)
	return host, nil
}

func (r *Resolver) queryMX(domain string) (string, uint32, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)

	for _, server := range r.clientConfig.Servers {
		addr := server + ":" + r.clientConfig.Port
		resp, _, err := r.client.Exchange(m, addr)
		if err != nil {
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}

		var best *dns.MX
		for _, rr := range resp.Answer {
			if mx, ok := rr.(*dns.MX); ok {
				if best == nil || mx.Preference < best.Preference {
					best = mx
				}
			}
		}
		if best == nil {
			return "", 0, nil
		}
		return strimFQDN(best.Mx), best.Hdr.Ttl, nil
	}

	return "", 0, fmt.Errorf("mxresolve: no resolver answered for %s", domain)
}

func (r *Resolver) hasAddress(domain string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	for _, server := range r.clientConfig.Servers {
		addr := server + ":" + r.clientConfig.Port
		resp, _, err := r.client.Exchange(m, addr)
		if err != nil {
			continue
		}
		if resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
			return true, nil
		}
		return false, nil
	}
	return false, fmt.Errorf("mxresolve: no resolver answered for %s", domain)
}

func (r *Resolver) cacheGet(domain string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.cache[domain]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.host, true
}

func (r *Resolver) cachePut(domain, host string, ttlSeconds uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[domain] = cacheEntry{host: host, expires: time.Now().Add(time.Duration(ttlSeconds) * time.Second)}
}

func strimFQDN(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		return name[:len(name)-1]
	}
	return name
}
