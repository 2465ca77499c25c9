package models

// Page outcome constants, one per way a page request can end.
const (
	OutcomeServed       = "served"
	OutcomeVariant      = "redirect_variant"
	OutcomeDomainParam  = "redirect_domain_param"
	OutcomeStoredDomain = "redirect_stored_domain"
	OutcomeLimited      = "served_redirect_limited"
	OutcomeNotFound     = "not_found"
)

// Gate denial reasons.
const (
	DenyListed  = "deny_list"
	DenyDynamic = "deny_set"
	DenyGeo     = "geo"
)

// PageOutcome names the outcome of a page evaluation from the navigation
// reason and whether the redirect budget was exhausted.
func PageOutcome(reason string, exhausted bool) string {
	switch reason {
	case "variant":
		return OutcomeVariant
	case "domain_param":
		return OutcomeDomainParam
	case "stored_domain":
		return OutcomeStoredDomain
	}
	if exhausted {
		return OutcomeLimited
	}
	return OutcomeServed
}
