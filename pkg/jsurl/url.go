// Package jsurl implements the immutable specifier value used throughout
// the module registry. It is the concrete stand-in for the "URL
// parsing/normalization" collaborator that the registry assumes is
// available (clone, resolve-relative, parse) without caring how it is
// implemented under the hood.
package jsurl

import (
	"net/url"
	"strings"
)

// EquivalenceOption controls how two URLs are compared or how a clone
// is normalized before being used as a cache key.
type EquivalenceOption int

const (
	// IgnoreFragments drops the fragment ("#...") before comparing/cloning.
	IgnoreFragments EquivalenceOption = 1 << iota
	// IgnoreSearch drops the query string ("?...") before comparing/cloning.
	IgnoreSearch
	// NormalizePath re-decodes and re-encodes percent-escapes in the path
	// so that "a/%2fb" and "a/%2Fb" compare equal.
	NormalizePath
)

func has(opts []EquivalenceOption, want EquivalenceOption) bool {
	for _, o := range opts {
		if o&want != 0 {
			return true
		}
	}
	return false
}

// Url is an immutable specifier. The zero value is not valid; construct
// with TryParse, MustParse or TryResolve.
type Url struct {
	inner *url.URL
}

// TryParse parses str as an absolute URL. It returns false if str is not
// a valid, absolute URL.
func TryParse(str string) (Url, bool) {
	u, err := url.Parse(str)
	if err != nil || !u.IsAbs() {
		return Url{}, false
	}
	return Url{inner: u}, true
}

// MustParse is a convenience for tests and builder code that already
// knows the input is well-formed.
func MustParse(str string) Url {
	u, ok := TryParse(str)
	if !ok {
		panic("jsurl: invalid absolute url: " + str)
	}
	return u
}

// Valid reports whether this Url was constructed successfully.
func (u Url) Valid() bool { return u.inner != nil }

// Clone returns a value copy of u, optionally normalized per opts.
func (u Url) Clone(opts ...EquivalenceOption) Url {
	if u.inner == nil {
		return Url{}
	}
	cp := *u.inner
	if has(opts, IgnoreFragments) {
		cp.Fragment = ""
		cp.RawFragment = ""
	}
	if has(opts, IgnoreSearch) {
		cp.RawQuery = ""
	}
	out := Url{inner: &cp}
	if has(opts, NormalizePath) {
		out = out.normalizePath()
	}
	return out
}

// normalizePath re-decodes and re-encodes the path so that equivalent
// percent-encodings compare equal (e.g. "a/%2fb" and "a/%2Fb").
func (u Url) normalizePath() Url {
	cp := *u.inner
	// EscapedPath() is recomputed lazily from Path/RawPath.
	cp.RawPath = ""
	return Url{inner: &cp}
}

// TryResolve resolves relative against u, the way a browser resolves a
// relative import specifier against its referrer.
func (u Url) TryResolve(relative string) (Url, bool) {
	if u.inner == nil {
		return TryParse(relative)
	}
	ref, err := url.Parse(relative)
	if err != nil {
		return Url{}, false
	}
	resolved := u.inner.ResolveReference(ref)
	if !resolved.IsAbs() {
		return Url{}, false
	}
	return Url{inner: resolved}, true
}

// Href returns the canonical string form of the URL.
func (u Url) Href() string {
	if u.inner == nil {
		return ""
	}
	return u.inner.String()
}

// Scheme returns the URL's scheme including the trailing colon, e.g. "file:".
func (u Url) Scheme() string {
	if u.inner == nil {
		return ""
	}
	return u.inner.Scheme + ":"
}

// Equal compares two URLs for equality under opts.
func (u Url) Equal(other Url, opts ...EquivalenceOption) bool {
	return u.Clone(opts...).Href() == other.Clone(opts...).Href()
}

// Key returns a value suitable for use as a map key (comparable, unique
// per distinct href).
func (u Url) Key() string { return u.Href() }

// String implements fmt.Stringer for logging/observer output.
func (u Url) String() string { return u.Href() }

// IsFileScheme reports whether the scheme is "file:", the scheme
// reserved for BUNDLE-type modules (invariant 5 in spec.md §3).
func (u Url) IsFileScheme() bool {
	return strings.EqualFold(u.Scheme(), "file:")
}
