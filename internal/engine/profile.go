package engine

import (
	"pagerouter/internal/beacon"
	"pagerouter/internal/links"
	"pagerouter/internal/pathmap"
	"pagerouter/internal/variant"
)

// Profile configures the engine for one managed namespace.
type Profile struct {
	Name  string
	Param string
	Allow variant.AllowList
	Paths pathmap.Rules
	// Loader enables variant routing and domain preservation. Without it only
	// tracking runs, in standalone mode.
	Loader         bool
	PreserveDomain bool
	// Tracking enables link annotation and the click beacon.
	Tracking        bool
	NetworkHost     string
	// ExcludedDomains are hosts excluded in addition to the affiliate-network
	// deny set, which always applies.
	ExcludedDomains []string
	Links           links.Options
	Beacon          beacon.Options
}

// JVProfile is the /jv namespace.
func JVProfile() Profile {
	return Profile{
		Name:  "jv",
		Param: "tb",
		Allow: variant.AllowList{"vdrd"},
		Paths: pathmap.Rules{
			Root:   "jv",
			Exempt: []string{"support", "refund-policy", "ftc", "earnings-disclaimer"},
		},
		Loader:         true,
		PreserveDomain: true,
		Tracking:       true,
		Links:          links.DefaultOptions(),
		Beacon:         beacon.DefaultOptions(),
	}
}

// CBProfile is the /cb namespace.
func CBProfile() Profile {
	return Profile{
		Name:  "cb",
		Param: "pg",
		Allow: variant.AllowList{"tldr", "indexb"},
		Paths: pathmap.Rules{
			Root:   "cb",
			Exempt: []string{"ds2", "ds3"},
		},
		Loader:         true,
		PreserveDomain: true,
		Links:          links.DefaultOptions(),
		Beacon:         beacon.DefaultOptions(),
	}
}

// DefaultProfiles returns the built-in namespaces.
func DefaultProfiles() []Profile {
	return []Profile{JVProfile(), CBProfile()}
}
