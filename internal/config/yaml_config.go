package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pagerouter/internal/engine"
	"pagerouter/internal/validation"
	"pagerouter/internal/variant"
)

// Defaults applied when the YAML file omits a setting.
const (
	DefaultSettle          = 2 * time.Second
	DefaultJanitorInterval = 10 * time.Minute
	DefaultIndexTTLDays    = 1
	DefaultMaxPayload      = 32 * 1024
	DefaultSnippetSize     = 512
	DefaultGateRedisSet    = "gate:denylist"
)

// YAMLConfig represents the structure of the config.yaml file.
// Complex hierarchical config that's easier to manage in YAML than env vars.
type YAMLConfig struct {
	Profiles []ProfileConfig `yaml:"profiles"`
	Gate     GateConfig      `yaml:"gate"`
	VisitLog VisitLogConfig  `yaml:"visit_log"`
	Engine   EngineConfig    `yaml:"engine"`
	Janitor  JanitorConfig   `yaml:"janitor"`
}

// ProfileConfig overrides one engine profile. A profile named like a built-in
// one (jv, cb) starts from the built-in settings.
type ProfileConfig struct {
	Name            string       `yaml:"name"`
	Root            string       `yaml:"root,omitempty"` // defaults to Name
	Param           string       `yaml:"param,omitempty"`
	Allow           []string     `yaml:"allow,omitempty"`
	Exempt          []string     `yaml:"exempt,omitempty"`
	Suffix          string       `yaml:"suffix,omitempty"`
	Marker          string       `yaml:"marker,omitempty"`
	Loader          *bool        `yaml:"loader,omitempty"`
	PreserveDomain  *bool        `yaml:"preserve_domain,omitempty"`
	Tracking        *bool        `yaml:"tracking,omitempty"`
	NetworkHost     string       `yaml:"network_host,omitempty"`
	ExcludedDomains []string     `yaml:"excluded_domains,omitempty"`
	Links           LinksConfig  `yaml:"links"`
	Beacon          BeaconConfig `yaml:"beacon"`
}

// LinksConfig tunes the link annotator.
type LinksConfig struct {
	AlwaysPass []string      `yaml:"always_pass,omitempty"`
	PassAll    *bool         `yaml:"pass_all,omitempty"`
	Marker     string        `yaml:"marker,omitempty"`
	Debounce   time.Duration `yaml:"debounce,omitempty"`
}

// BeaconConfig tunes the click beacon.
type BeaconConfig struct {
	TTL               time.Duration `yaml:"ttl,omitempty"`
	Throttle          time.Duration `yaml:"throttle,omitempty"`
	FallbackProductID string        `yaml:"fallback_product_id,omitempty"`
	Endpoint          string        `yaml:"endpoint,omitempty"`
}

// GateConfig defines the edge access gate.
type GateConfig struct {
	Disabled    bool      `yaml:"disabled"`
	FallbackURL string    `yaml:"fallback_url"`
	DenyIPs     []string  `yaml:"deny_ips"`
	Geo         []GeoRule `yaml:"geo"`
	RedisSet    string    `yaml:"redis_set"` // Redis set holding extra denied addresses
}

// GeoRule denies visitors from one country/region pair.
type GeoRule struct {
	Country string `yaml:"country"`
	Region  string `yaml:"region"`
}

// VisitLogConfig defines the visit logger.
type VisitLogConfig struct {
	UniquePerDay bool `yaml:"unique_per_day"`
	IndexTTLDays int  `yaml:"index_ttl_days"`
	MaxPayload   int  `yaml:"max_payload"`
	SnippetSize  int  `yaml:"snippet_size"`
}

// EngineConfig defines how long a page evaluation may run before the page is
// served.
type EngineConfig struct {
	Settle time.Duration `yaml:"settle"`
}

// JanitorConfig defines the background cleanup job.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoadYAMLConfig loads the YAML configuration file at path.
// Returns nil without error if the config file doesn't exist.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return nil, nil
		}
		return nil, err
	}
	return ParseYAMLConfig(data)
}

// ParseYAMLConfig decodes and validates a YAML document.
func ParseYAMLConfig(data []byte) (*YAMLConfig, error) {
	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *YAMLConfig) validate() error {
	seen := make(map[string]bool)
	for _, p := range c.Profiles {
		if !validation.ValidateToken(p.Name) {
			return fmt.Errorf("profile %q: invalid name", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("profile %q: defined twice", p.Name)
		}
		seen[p.Name] = true
		if p.Param != "" && !validation.ValidateToken(p.Param) {
			return fmt.Errorf("profile %q: invalid param %q", p.Name, p.Param)
		}
		for _, tok := range p.Allow {
			if !validation.ValidateToken(tok) {
				return fmt.Errorf("profile %q: invalid token %q", p.Name, tok)
			}
		}
		if p.Beacon.Endpoint != "" {
			if ok, msg := validation.ValidateURL(p.Beacon.Endpoint); !ok {
				return fmt.Errorf("profile %q: beacon endpoint: %s", p.Name, msg)
			}
		}
	}
	if c.Gate.FallbackURL != "" {
		if ok, msg := validation.ValidateURL(c.Gate.FallbackURL); !ok {
			return fmt.Errorf("gate fallback_url: %s", msg)
		}
	}
	for _, ip := range c.Gate.DenyIPs {
		if validation.ParseClientIP(ip) == "" {
			return fmt.Errorf("gate deny_ips: %q is not an IP address", ip)
		}
	}
	return nil
}

// EngineProfiles returns the built-in profiles with the file's overrides
// applied, followed by any additional profiles the file defines.
func (c *YAMLConfig) EngineProfiles() []engine.Profile {
	profiles := engine.DefaultProfiles()
	if c == nil {
		return profiles
	}

	index := make(map[string]int, len(profiles))
	for i, p := range profiles {
		index[p.Name] = i
	}
	for _, pc := range c.Profiles {
		if i, ok := index[pc.Name]; ok {
			profiles[i] = pc.apply(profiles[i])
			continue
		}
		base := engine.JVProfile()
		base.Name = pc.Name
		base.Paths.Root = pc.Name
		base.Paths.Exempt = nil
		profiles = append(profiles, pc.apply(base))
	}
	return profiles
}

func (pc ProfileConfig) apply(p engine.Profile) engine.Profile {
	if pc.Root != "" {
		p.Paths.Root = strings.Trim(pc.Root, "/")
	}
	if pc.Param != "" {
		p.Param = pc.Param
	}
	if pc.Allow != nil {
		p.Allow = variant.AllowList(pc.Allow)
	}
	if pc.Exempt != nil {
		p.Paths.Exempt = pc.Exempt
	}
	if pc.Suffix != "" {
		p.Paths.Suffix = pc.Suffix
	}
	if pc.Marker != "" {
		p.Paths.Marker = pc.Marker
	}
	if pc.Loader != nil {
		p.Loader = *pc.Loader
	}
	if pc.PreserveDomain != nil {
		p.PreserveDomain = *pc.PreserveDomain
	}
	if pc.Tracking != nil {
		p.Tracking = *pc.Tracking
	}
	if pc.NetworkHost != "" {
		p.NetworkHost = pc.NetworkHost
	}
	if pc.ExcludedDomains != nil {
		p.ExcludedDomains = pc.ExcludedDomains
	}

	if pc.Links.AlwaysPass != nil {
		p.Links.AlwaysPass = pc.Links.AlwaysPass
	}
	if pc.Links.PassAll != nil {
		p.Links.PassAll = *pc.Links.PassAll
	}
	if pc.Links.Marker != "" {
		p.Links.Marker = pc.Links.Marker
	}
	if pc.Links.Debounce > 0 {
		p.Links.Debounce = pc.Links.Debounce
	}

	if pc.Beacon.TTL > 0 {
		p.Beacon.TTL = pc.Beacon.TTL
	}
	if pc.Beacon.Throttle > 0 {
		p.Beacon.Throttle = pc.Beacon.Throttle
	}
	if pc.Beacon.FallbackProductID != "" {
		p.Beacon.FallbackProductID = pc.Beacon.FallbackProductID
	}
	if pc.Beacon.Endpoint != "" {
		p.Beacon.Endpoint = pc.Beacon.Endpoint
	}
	return p
}

// GateSettings returns the gate configuration with defaults applied. Without
// a file the gate denies the US/ID region only.
func (c *YAMLConfig) GateSettings() GateConfig {
	var g GateConfig
	if c != nil {
		g = c.Gate
	}
	if g.Geo == nil {
		g.Geo = []GeoRule{{Country: "US", Region: "ID"}}
	}
	if g.RedisSet == "" {
		g.RedisSet = DefaultGateRedisSet
	}
	return g
}

// VisitLogSettings returns the visit logger configuration with defaults applied.
func (c *YAMLConfig) VisitLogSettings() VisitLogConfig {
	var v VisitLogConfig
	if c != nil {
		v = c.VisitLog
	}
	if v.IndexTTLDays <= 0 {
		v.IndexTTLDays = DefaultIndexTTLDays
	}
	if v.MaxPayload <= 0 {
		v.MaxPayload = DefaultMaxPayload
	}
	if v.SnippetSize <= 0 {
		v.SnippetSize = DefaultSnippetSize
	}
	return v
}

// SettleTime is how long the page handler drains the event loop.
func (c *YAMLConfig) SettleTime() time.Duration {
	if c == nil || c.Engine.Settle <= 0 {
		return DefaultSettle
	}
	return c.Engine.Settle
}

// JanitorInterval is the period of the background cleanup job.
func (c *YAMLConfig) JanitorInterval() time.Duration {
	if c == nil || c.Janitor.Interval <= 0 {
		return DefaultJanitorInterval
	}
	return c.Janitor.Interval
}
