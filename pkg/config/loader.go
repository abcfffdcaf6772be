package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers the engine config's Viper keys and binds the flags
// this spec's CLI surface (§6) exposes, in the same flag > env > config
// file > default precedence the teacher's root.go establishes.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetDefault("timezone", DefaultTimezone)
	v.SetDefault("window_minutes", DefaultWindowMinutes)
	v.SetDefault("delayed_threshold", DefaultDelayedThreshold)
	v.SetDefault("recon_half_life_hours", DefaultReconHalfLifeHours)
	v.SetDefault("recon_state_backend", DefaultReconStateBackend)
	v.SetDefault("alerting.alert_on_severities", []string{"high"})

	if flags != nil {
		if f := flags.Lookup("window-minutes"); f != nil {
			if err := v.BindPFlag("window_minutes", f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads the bound Viper instance into an EngineConfig and validates
// it, so a malformed or out-of-range value is caught before the engine
// fetches a single event, per §7's "configuration errors are fatal before
// any fetch" policy.
func Load(v *viper.Viper) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}
