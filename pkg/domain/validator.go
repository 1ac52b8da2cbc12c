package domain

import (
	"strings"

	"golang.org/x/net/idna"
)

// SuffixRule is a single rule from the public-suffix rule language: an
// ordered sequence of labels (each a literal punycode label or the
// wildcard "*") plus an exception flag. Immutable after it is added to a
// DomainValidator.
type SuffixRule struct {
	Labels    []string
	Exception bool
}

// DomainValidator decides whether an email domain is registrable and not
// blocked. It is built once at startup via the Add* methods and is
// safe for concurrent read-only use via Validate thereafter.
type DomainValidator struct {
	allowedDomains     map[string]struct{}
	AllowedDomainsOnly bool
	blockedDomains     map[string]struct{}
	validTlds          map[string]struct{}
	validSuffixes      []SuffixRule
}

// New returns an empty DomainValidator. Populate it with the Add* methods
// before serving any Validate calls.
func New() *DomainValidator {
	return &DomainValidator{
		allowedDomains: make(map[string]struct{}),
		blockedDomains: make(map[string]struct{}),
		validTlds:      make(map[string]struct{}),
	}
}

// toASCII punycode-normalizes s the way the broker expects domains to be
// normalized everywhere: case-folded, Unicode-mapped, ASCII-compatible.
func toASCII(s string) (string, error) {
	out, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return "", err
	}
	return out, nil
}

// AddAllowedDomain adds an exact-match domain to the allow-list. A domain
// in the allow-list always validates, overriding block-list, TLD and
// suffix checks.
func (v *DomainValidator) AddAllowedDomain(domain string) error {
	ascii, err := toASCII(domain)
	if err != nil {
		return err
	}
	v.allowedDomains[ascii] = struct{}{}
	return nil
}

// AddBlockedDomain adds an exact-match domain to the block-list.
func (v *DomainValidator) AddBlockedDomain(domain string) error {
	ascii, err := toASCII(domain)
	if err != nil {
		return err
	}
	v.blockedDomains[ascii] = struct{}{}
	return nil
}

// AddValidTld adds a top-level domain to the set of recognized TLDs.
func (v *DomainValidator) AddValidTld(tld string) error {
	ascii, err := toASCII(tld)
	if err != nil {
		return err
	}
	v.validTlds[ascii] = struct{}{}
	return nil
}

// AddValidSuffix adds a public-suffix rule. A leading "!" marks the rule an
// exception. Returns ErrEmptyLabels if, after punycode normalization, any
// label of the rule is empty.
func (v *DomainValidator) AddValidSuffix(rule string) error {
	exception := strings.HasPrefix(rule, "!")
	slice := rule
	if exception {
		slice = rule[1:]
	}

	ascii, err := toASCII(slice)
	if err != nil {
		return err
	}

	labels := strings.Split(ascii, ".")
	for _, l := range labels {
		if l == "" {
			return ErrEmptyLabels
		}
	}

	v.validSuffixes = append(v.validSuffixes, SuffixRule{Labels: labels, Exception: exception})
	return nil
}

// Validate decides whether domain is registrable and not blocked, per the
// rules accumulated via the Add* methods. It is deterministic and has no
// side effects.
func (v *DomainValidator) Validate(domain string) error {
	ascii, err := toASCII(domain)
	if err != nil {
		return &ValidationError{Domain: domain, Kind: InvalidIdna}
	}
	ascii = strings.TrimSuffix(ascii, ".")

	if _, ok := v.allowedDomains[ascii]; ok {
		return nil
	}

	if _, blocked := v.blockedDomains[ascii]; v.AllowedDomainsOnly || blocked {
		return &ValidationError{Domain: domain, Kind: Blocked}
	}

	labels := strings.Split(ascii, ".")
	for _, l := range labels {
		if l == "" {
			return &ValidationError{Domain: domain, Kind: ContainsEmptyLabels}
		}
	}

	if _, ok := v.validTlds[labels[len(labels)-1]]; !ok {
		return &ValidationError{Domain: domain, Kind: InvalidTld}
	}

	if !v.validateSuffix(labels) {
		return &ValidationError{Domain: domain, Kind: InvalidSuffix}
	}

	return nil
}

// validateSuffix applies public-suffix semantics to the already-split,
// already-TLD-checked label list: longest non-exception match wins, and an
// exception match passes immediately. A domain with no matching rule is
// treated as matching the implicit "*" rule of length 1.
func (v *DomainValidator) validateSuffix(labels []string) bool {
	var matched *SuffixRule

	for i := range v.validSuffixes {
		rule := &v.validSuffixes[i]
		numLabels := len(rule.Labels)
		if len(labels) < numLabels {
			continue
		}
		tail := labels[len(labels)-numLabels:]

		ok := true
		for idx, label := range rule.Labels {
			if label != "*" && tail[idx] != label {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		if rule.Exception {
			return true
		}

		if matched == nil || len(matched.Labels) < numLabels {
			matched = rule
		}
	}

	if matched != nil {
		return len(labels) > len(matched.Labels)
	}
	return len(labels) > 1
}
