// Package cache implements the conditional-request cache described in
// spec.md §4.2 and §9: a key/value store of {payload, date, status} keyed
// by API path, with two expiry classes. Long entries back on a 304 Not
// Modified response — the platform adapter treats that as "reuse last
// payload," never as an error.
package cache
