// Package observable pulls lookup candidates out of OCSF event JSON.
package observable

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Observable types.
const (
	TypeIP     = "ip"
	TypeDomain = "domain"
	TypeHash   = "hash"
	TypeURL    = "url"
	TypeEmail  = "email"
)

var (
	hashPattern  = regexp.MustCompile(`^[a-f0-9]{32}$|^[a-f0-9]{40}$|^[a-f0-9]{64}$|^[a-f0-9]{128}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// Observable is a typed value found in an event.
type Observable struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Types selects which observable types are extracted. The zero value
// extracts nothing; use AllTypes for everything.
type Types struct {
	IPs     bool `mapstructure:"ips"`
	Domains bool `mapstructure:"domains"`
	Hashes  bool `mapstructure:"hashes"`
	URLs    bool `mapstructure:"urls"`
	Emails  bool `mapstructure:"emails"`
}

// AllTypes enables every observable type.
func AllTypes() Types {
	return Types{IPs: true, Domains: true, Hashes: true, URLs: true, Emails: true}
}

type event map[string]interface{}

// lookup walks nested objects along path.
func (e event) lookup(path ...string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(e)
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (e event) str(path ...string) string {
	v, _ := e.lookup(path...)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Extract parses rawJSON and returns the selected observables, deduplicated
// by type and value in discovery order.
func Extract(rawJSON []byte, types Types) ([]Observable, error) {
	var ev event
	if err := json.Unmarshal(rawJSON, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	var out []Observable
	add := func(typ string, values []string) {
		for _, v := range values {
			out = append(out, Observable{Type: typ, Value: v})
		}
	}

	if types.IPs {
		add(TypeIP, extractIPs(ev))
	}
	if types.Domains {
		add(TypeDomain, extractDomains(ev))
	}
	if types.Hashes {
		add(TypeHash, extractHashes(ev))
	}
	if types.URLs {
		add(TypeURL, extractURLs(ev))
	}
	if types.Emails {
		add(TypeEmail, extractEmails(ev))
	}

	return deduplicate(out), nil
}

// Values returns the distinct observable values in order.
func Values(observables []Observable) []string {
	seen := make(map[string]bool)
	var values []string
	for _, obs := range observables {
		if !seen[obs.Value] {
			seen[obs.Value] = true
			values = append(values, obs.Value)
		}
	}
	return values
}

func extractIPs(ev event) []string {
	var ips []string
	for _, owner := range []string{"src_endpoint", "dst_endpoint", "device"} {
		if ip := ev.str(owner, "ip"); net.ParseIP(ip) != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func extractDomains(ev event) []string {
	var domains []string
	for _, owner := range []string{"src_endpoint", "dst_endpoint"} {
		if d := domainFromHostname(ev.str(owner, "hostname")); d != "" {
			domains = append(domains, d)
		}
	}
	if d := domainFromURL(ev.str("url")); d != "" {
		domains = append(domains, d)
	}
	return domains
}

func extractHashes(ev event) []string {
	var hashes []string
	for _, path := range [][]string{{"file", "hashes"}, {"process", "file", "hashes"}} {
		v, _ := ev.lookup(path...)
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		// map order is random; sort algorithms for stable output
		algos := make([]string, 0, len(m))
		for algo := range m {
			algos = append(algos, algo)
		}
		sort.Strings(algos)
		for _, algo := range algos {
			if h, ok := m[algo].(string); ok && isHash(h) {
				hashes = append(hashes, strings.ToLower(strings.TrimSpace(h)))
			}
		}
	}
	return hashes
}

func extractURLs(ev event) []string {
	var urls []string
	for _, u := range []string{ev.str("url"), ev.str("http_request", "url")} {
		if isURL(u) {
			urls = append(urls, u)
		}
	}
	return urls
}

func extractEmails(ev event) []string {
	var emails []string
	for _, e := range []string{ev.str("actor", "user", "email_addr"), ev.str("user", "email_addr")} {
		if emailPattern.MatchString(e) {
			emails = append(emails, e)
		}
	}
	return emails
}

func isHash(h string) bool {
	return hashPattern.MatchString(strings.ToLower(strings.TrimSpace(h)))
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func domainFromHostname(hostname string) string {
	hostname = strings.ToLower(hostname)
	if strings.Contains(hostname, ".") && net.ParseIP(hostname) == nil {
		return hostname
	}
	return ""
}

func domainFromURL(s string) string {
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return domainFromHostname(u.Hostname())
}

func deduplicate(observables []Observable) []Observable {
	seen := make(map[string]bool)
	var result []Observable
	for _, obs := range observables {
		key := obs.Type + ":" + obs.Value
		if !seen[key] {
			seen[key] = true
			result = append(result, obs)
		}
	}
	return result
}
