// Package provider defines the external classifier boundary: one capability
// contract implemented per provider, a set of adapters that translate each
// provider's native categories and scores into the canonical model via static
// lookup tables, and an aggregator that fans out to every available provider
// concurrently with fail-open semantics.
package provider

import (
	"context"
	"errors"

	"github.com/kidsafe/guardian/internal/moderation"
)

// Provider is the capability contract for one external classifier. Check
// returns the provider's verdict translated to the canonical model;
// Available reports whether the provider is configured and worth calling.
type Provider interface {
	Name() string
	Available() bool
	Check(ctx context.Context, req *moderation.Request) (moderation.Result, error)
}

// ErrBadResponse marks a provider reply this engine cannot interpret.
// Unlike transport failures it is not retried; the call fails open
// immediately.
var ErrBadResponse = errors.New("provider: bad response")

// failOpen builds the safe partial result substituted for a failed provider
// call. The note preserves which provider failed and why, for audit.
func failOpen(name, reason string) moderation.Result {
	return moderation.SafeResult("provider:" + name + " failed open: " + reason)
}

// canonicalize enforces the result invariants at the adapter boundary: a
// safe result carries no categories and no severity, and an unsafe result
// never reports the safe severity.
func canonicalize(r moderation.Result) moderation.Result {
	if r.Safe {
		r.Categories = nil
		r.Severity = moderation.SeveritySafe
		return r
	}
	if r.Severity == moderation.SeveritySafe {
		r.Severity = moderation.SeverityLow
	}
	return r
}
