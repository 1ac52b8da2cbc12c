// Package domain validates that an email's domain is a legitimate,
// registrable name under a real top-level domain. It implements the
// public-suffix rule language (labels, wildcards, exceptions, longest-match)
// layered underneath an allow-list/block-list and a TLD gate.
package domain
