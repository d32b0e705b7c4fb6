package profile

import "rcsd/internal/settings"

const DefaultProfileName = "default"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "default"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	s, err := settings.Load(ConfigPath())
	if err == nil && s.DefaultProfile != "" {
		return s.DefaultProfile
	}
	return DefaultProfileName
}
