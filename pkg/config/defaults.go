// Package config defines the engine's configuration surface and default
// values, the way the teacher's pkg/config package holds its policy and
// risk defaults as plain structs with Default*Config constructors.
package config

// SuppressionConfig lists the actors and organizational units exempt from
// findings entirely, per §6's suppressions.* surface.
type SuppressionConfig struct {
	// AllowedExternalDomains are destinations the classifier treats as
	// routine rather than suspicious.
	AllowedExternalDomains []string `mapstructure:"allowed_external_domains"`
	// SecurityInvestigationOUs are organizational units whose activity the
	// Severity Resolver always drops (security team self-testing).
	SecurityInvestigationOUs []string `mapstructure:"security_investigation_ous"`
	// ExcludeActors are specific actors the Severity Resolver always drops.
	ExcludeActors []string `mapstructure:"exclude_actors"`
}

// SeverityOverrideConfig lists the conditions that step a finding's
// severity up, per §6's severity_overrides.* surface.
type SeverityOverrideConfig struct {
	// HighRiskOUs are organizational units whose actors get a severity step
	// bump (executives, finance, legal).
	HighRiskOUs []string `mapstructure:"high_risk_ous"`
	// SensitiveLabels are file labels that get a severity step bump.
	SensitiveLabels []string `mapstructure:"sensitive_labels"`
	// RulesFile optionally names a YAML file of operator-authored CEL
	// override/suppression rules (§9's "abstract behind a narrow
	// interface" call for rule-level configurability), loaded separately
	// from the main config via config.LoadRules.
	RulesFile string `mapstructure:"rules_file"`
}

// AlertingConfig controls the optional webhook dispatch, per §6's
// alerting.* surface. The webhook client itself is out of scope; this is
// only the configuration the Finding Emitter reads.
type AlertingConfig struct {
	WebhookURL        string   `mapstructure:"webhook_url"`
	AlertOnSeverities []string `mapstructure:"alert_on_severities"`
}

// EngineConfig is the full configuration surface of §6, bound by Viper from
// flag, environment, and config-file sources in that precedence order.
type EngineConfig struct {
	// Timezone is an IANA zone name used for off-hours detection and
	// timestamp rendering.
	Timezone string `mapstructure:"timezone"`
	// WindowMinutes bounds the immediate-match correlation window.
	WindowMinutes int `mapstructure:"window_minutes"`
	// DelayedThreshold is the cumulative recon score above which a
	// same-actor exfil event is treated as a delayed match.
	DelayedThreshold float64 `mapstructure:"delayed_threshold"`
	// ReconHalfLifeHours is the Recon State Store's exponential decay
	// half-life.
	ReconHalfLifeHours float64 `mapstructure:"recon_half_life_hours"`
	// ReconStateBackend selects "memory" or "kv".
	ReconStateBackend string `mapstructure:"recon_state_backend"`
	// ReconStateConnString is the connection string for the kv backend.
	ReconStateConnString string `mapstructure:"recon_state_conn_string"`
	// PartnerDomains are external domains the classifier discounts as
	// known business partners rather than unknown destinations.
	PartnerDomains []string `mapstructure:"partner_domains"`
	// HighRiskFolders are parent-folder ids that get a severity step bump.
	HighRiskFolders []string `mapstructure:"high_risk_folders"`

	Suppressions      SuppressionConfig      `mapstructure:"suppressions"`
	SeverityOverrides SeverityOverrideConfig `mapstructure:"severity_overrides"`
	Alerting          AlertingConfig         `mapstructure:"alerting"`
}

// Defaults.
const (
	DefaultTimezone           = "UTC"
	DefaultWindowMinutes      = 30
	DefaultDelayedThreshold   = 5.0
	DefaultReconHalfLifeHours = 48.0
	DefaultReconStateBackend  = "memory"
)

// DefaultEngineConfig returns the engine configuration with every default
// named in §6.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timezone:           DefaultTimezone,
		WindowMinutes:      DefaultWindowMinutes,
		DelayedThreshold:   DefaultDelayedThreshold,
		ReconHalfLifeHours: DefaultReconHalfLifeHours,
		ReconStateBackend:  DefaultReconStateBackend,
		PartnerDomains:     []string{},
		HighRiskFolders:    []string{},
		Suppressions: SuppressionConfig{
			AllowedExternalDomains:   []string{},
			SecurityInvestigationOUs: []string{},
			ExcludeActors:            []string{},
		},
		SeverityOverrides: SeverityOverrideConfig{
			HighRiskOUs:     []string{},
			SensitiveLabels: []string{},
		},
		Alerting: AlertingConfig{
			AlertOnSeverities: []string{"high"},
		},
	}
}

// Validate checks WindowMinutes' documented range and the backend enum,
// returning a plain error the caller wraps as nwerrors.KindConfig.
func (c EngineConfig) Validate() error {
	if c.WindowMinutes < 1 || c.WindowMinutes > 1440 {
		return errWindowMinutesRange
	}
	if c.ReconStateBackend != "memory" && c.ReconStateBackend != "kv" {
		return errUnknownBackend
	}
	if c.ReconStateBackend == "kv" && c.ReconStateConnString == "" {
		return errMissingConnString
	}
	if c.Timezone == "" {
		return errMissingTimezone
	}
	return nil
}
