// Package config defines the declarative policy configuration the admission
// engine runs on. The file is YAML; validation happens entirely at load time
// so a broken sandbox mapping stops the engine from starting instead of
// leaking capability at decision time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	pstrings "buildgate/pkg/platform/strings"
)

// maxInternalTokenTTL caps scoped credentials even for the internal tier.
const maxInternalTokenTTL = 2 * time.Hour

// Config is the parsed, validated policy configuration.
type Config struct {
	MinAccountAge             time.Duration
	MinRecurringContributions int
	MinApprovers              int
	ApprovalTTL               time.Duration

	ProtectedBranches []string
	SensitivePaths    []string

	InternalRoster []id.ActorLogin
	ApproverRoster []id.ActorLogin
	Allowlist      []SeedEntry
	Denylist       []SeedEntry

	// Profiles maps each tier to the sandbox profile attached to an Admit for
	// that tier. Non-admit outcomes always resolve to the locked profile; see
	// the sandbox package.
	Profiles map[id.TrustTier]models.SandboxProfile

	// IngestLimit bounds concurrent event intake. Exceeding it produces a
	// retryable rejection, never a silent drop.
	IngestLimit  int
	IngestWindow time.Duration

	RegistrySweepInterval time.Duration
	ApprovalSweepInterval time.Duration
}

// SeedEntry is a registry entry declared in the policy file, loaded into the
// registry store at startup.
type SeedEntry struct {
	Identifier id.ActorLogin
	Reason     string
	ExpiresAt  *time.Time
}

// file* types mirror the YAML layout before validation.
type fileConfig struct {
	MinAccountAgeDays         int                    `yaml:"min_account_age_days"`
	MinRecurringContributions int                    `yaml:"min_recurring_contributions"`
	MinApprovers              int                    `yaml:"min_approvers"`
	ApprovalTTL               string                 `yaml:"approval_ttl"`
	ProtectedBranches         []string               `yaml:"protected_branches"`
	SensitivePaths            []string               `yaml:"sensitive_paths"`
	InternalRoster            []string               `yaml:"internal_roster"`
	ApproverRoster            []string               `yaml:"approver_roster"`
	Allowlist                 []fileEntry            `yaml:"allowlist"`
	Denylist                  []fileEntry            `yaml:"denylist"`
	SandboxProfiles           map[string]fileProfile `yaml:"sandbox_profiles"`
	IngestLimit               int                    `yaml:"ingest_limit"`
	IngestWindow              string                 `yaml:"ingest_window"`
	RegistrySweepInterval     string                 `yaml:"registry_sweep_interval"`
	ApprovalSweepInterval     string                 `yaml:"approval_sweep_interval"`
}

type fileEntry struct {
	Identifier string     `yaml:"identifier"`
	Reason     string     `yaml:"reason"`
	ExpiresAt  *time.Time `yaml:"expires_at"`
}

type fileProfile struct {
	NetworkMode     string   `yaml:"network_mode"`
	FilesystemMode  string   `yaml:"filesystem_mode"`
	CPUMillis       int      `yaml:"cpu_millis"`
	MemoryMB        int      `yaml:"memory_mb"`
	CredentialScope []string `yaml:"credential_scope"`
	TokenTTL        string   `yaml:"token_ttl"`
}

// Load reads and validates the policy file. Any violation is fatal: the
// caller is expected to refuse startup on error.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePolicyConfig, "read policy file")
	}
	return Parse(raw)
}

// Parse validates raw YAML policy configuration.
func Parse(raw []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePolicyConfig, "parse policy file")
	}

	cfg := &Config{
		MinAccountAge:             time.Duration(fc.MinAccountAgeDays) * 24 * time.Hour,
		MinRecurringContributions: fc.MinRecurringContributions,
		MinApprovers:              fc.MinApprovers,
		ProtectedBranches:         pstrings.DedupeAndTrim(fc.ProtectedBranches),
		SensitivePaths:            pstrings.DedupeAndTrim(fc.SensitivePaths),
		IngestLimit:               fc.IngestLimit,
		Profiles:                  make(map[id.TrustTier]models.SandboxProfile, len(fc.SandboxProfiles)),
	}

	var err error
	if cfg.ApprovalTTL, err = parseDuration(fc.ApprovalTTL, "approval_ttl", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IngestWindow, err = parseDuration(fc.IngestWindow, "ingest_window", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RegistrySweepInterval, err = parseDuration(fc.RegistrySweepInterval, "registry_sweep_interval", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ApprovalSweepInterval, err = parseDuration(fc.ApprovalSweepInterval, "approval_sweep_interval", time.Minute); err != nil {
		return nil, err
	}

	if cfg.InternalRoster, err = parseRoster(fc.InternalRoster, "internal_roster"); err != nil {
		return nil, err
	}
	if cfg.ApproverRoster, err = parseRoster(fc.ApproverRoster, "approver_roster"); err != nil {
		return nil, err
	}
	if cfg.Allowlist, err = parseEntries(fc.Allowlist, "allowlist"); err != nil {
		return nil, err
	}
	if cfg.Denylist, err = parseEntries(fc.Denylist, "denylist"); err != nil {
		return nil, err
	}

	for name, fp := range fc.SandboxProfiles {
		tier, err := id.ParseTrustTier(name)
		if err != nil {
			return nil, dErrors.Newf(dErrors.CodePolicyConfig, "sandbox_profiles: unknown tier %q", name)
		}
		profile, err := parseProfile(fp, name)
		if err != nil {
			return nil, err
		}
		cfg.Profiles[tier] = profile
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the policy invariants that decision-time code is allowed
// to assume. Everything here fails closed at startup.
func (c *Config) validate() error {
	if c.MinAccountAge <= 0 {
		return dErrors.New(dErrors.CodePolicyConfig, "min_account_age_days must be positive")
	}
	if c.MinRecurringContributions <= 0 {
		return dErrors.New(dErrors.CodePolicyConfig, "min_recurring_contributions must be positive")
	}
	if c.MinApprovers < 1 {
		return dErrors.New(dErrors.CodePolicyConfig, "min_approvers must be at least 1")
	}
	if c.ApprovalTTL <= 0 {
		return dErrors.New(dErrors.CodePolicyConfig, "approval_ttl must be positive")
	}
	if len(c.ApproverRoster) < c.MinApprovers {
		return dErrors.Newf(dErrors.CodePolicyConfig,
			"approver_roster has %d entries, fewer than min_approvers=%d",
			len(c.ApproverRoster), c.MinApprovers)
	}
	if len(c.SensitivePaths) == 0 {
		return dErrors.New(dErrors.CodePolicyConfig, "sensitive_paths must not be empty")
	}
	if c.IngestLimit <= 0 {
		return dErrors.New(dErrors.CodePolicyConfig, "ingest_limit must be positive")
	}

	// The tier mapping must be total: no tier may fall through to an
	// implicit default profile.
	for _, tier := range id.AllTrustTiers() {
		profile, ok := c.Profiles[tier]
		if !ok {
			return dErrors.Newf(dErrors.CodePolicyConfig,
				"sandbox_profiles missing profile for tier %q", tier)
		}
		if err := validateProfileForTier(tier, profile); err != nil {
			return err
		}
	}
	return nil
}

// validateProfileForTier enforces tier monotonicity: capability may only grow
// with trust. Granting write credentials or network to an external tier is a
// configuration error, rejected here rather than discovered at decision time.
func validateProfileForTier(tier id.TrustTier, p models.SandboxProfile) error {
	if !p.NetworkMode.IsValid() {
		return dErrors.Newf(dErrors.CodePolicyConfig, "tier %q: invalid network_mode %q", tier, p.NetworkMode)
	}
	if !p.FilesystemMode.IsValid() {
		return dErrors.Newf(dErrors.CodePolicyConfig, "tier %q: invalid filesystem_mode %q", tier, p.FilesystemMode)
	}
	if p.CPUMillis <= 0 || p.MemoryMB <= 0 {
		return dErrors.Newf(dErrors.CodePolicyConfig, "tier %q: cpu and memory limits must be positive", tier)
	}

	switch tier {
	case id.TierRevoked:
		if p.HasCredentials() || p.NetworkMode != models.NetworkNone || p.FilesystemMode != models.FilesystemReadOnly {
			return dErrors.New(dErrors.CodePolicyConfig, "revoked tier profile must grant nothing")
		}
	case id.TierFirstTimeExternal, id.TierRecurringExternal:
		if p.HasCredentials() {
			return dErrors.Newf(dErrors.CodePolicyConfig,
				"tier %q: external tiers must have empty credential_scope", tier)
		}
		if p.NetworkMode == models.NetworkFull {
			return dErrors.Newf(dErrors.CodePolicyConfig,
				"tier %q: external tiers must use network_mode none or isolated", tier)
		}
		if p.FilesystemMode != models.FilesystemReadOnly {
			return dErrors.Newf(dErrors.CodePolicyConfig,
				"tier %q: external tiers must use filesystem_mode read_only", tier)
		}
	case id.TierInternal:
		if p.HasCredentials() && p.TokenTTL <= 0 {
			return dErrors.New(dErrors.CodePolicyConfig,
				"internal tier with credentials requires a positive token_ttl")
		}
		if p.TokenTTL > maxInternalTokenTTL {
			return dErrors.Newf(dErrors.CodePolicyConfig,
				"internal tier token_ttl %s exceeds hard cap %s", p.TokenTTL, maxInternalTokenTTL)
		}
	}
	return nil
}

func parseRoster(logins []string, field string) ([]id.ActorLogin, error) {
	out := make([]id.ActorLogin, 0, len(logins))
	seen := make(map[id.ActorLogin]bool, len(logins))
	for _, raw := range logins {
		login, err := id.ParseActorLogin(raw)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePolicyConfig,
				fmt.Sprintf("%s: invalid identifier %q", field, raw))
		}
		if seen[login] {
			continue
		}
		seen[login] = true
		out = append(out, login)
	}
	return out, nil
}

func parseEntries(entries []fileEntry, field string) ([]SeedEntry, error) {
	out := make([]SeedEntry, 0, len(entries))
	for _, e := range entries {
		login, err := id.ParseActorLogin(e.Identifier)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePolicyConfig,
				fmt.Sprintf("%s: invalid identifier %q", field, e.Identifier))
		}
		out = append(out, SeedEntry{Identifier: login, Reason: e.Reason, ExpiresAt: e.ExpiresAt})
	}
	return out, nil
}

func parseProfile(fp fileProfile, tierName string) (models.SandboxProfile, error) {
	profile := models.SandboxProfile{
		NetworkMode:     models.NetworkMode(fp.NetworkMode),
		FilesystemMode:  models.FilesystemMode(fp.FilesystemMode),
		CPUMillis:       fp.CPUMillis,
		MemoryMB:        fp.MemoryMB,
		CredentialScope: fp.CredentialScope,
	}
	if fp.TokenTTL != "" {
		ttl, err := time.ParseDuration(fp.TokenTTL)
		if err != nil {
			return models.SandboxProfile{}, dErrors.Newf(dErrors.CodePolicyConfig,
				"tier %q: invalid token_ttl %q", tierName, fp.TokenTTL)
		}
		profile.TokenTTL = ttl
	}
	return profile, nil
}

func parseDuration(raw, field string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodePolicyConfig, "%s: invalid duration %q", field, raw)
	}
	if d <= 0 {
		return 0, dErrors.Newf(dErrors.CodePolicyConfig, "%s must be positive", field)
	}
	return d, nil
}
