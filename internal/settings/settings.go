package settings

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Settings is the daemon configuration stored at ~/.rcsd/config.toml.
type Settings struct {
	DefaultProfile string `toml:"default_profile"`
	HTTPListenAddr string `toml:"http_listen_addr"`

	Capability CapabilitySettings `toml:"capability"`
	Sharing    SharingSettings    `toml:"sharing"`
	Chat       ChatSettings       `toml:"chat"`
}

// CapabilitySettings controls capability polling and expiry.
type CapabilitySettings struct {
	// PollingPeriodSeconds is the interval between capability polling
	// cycles. 0 disables polling entirely.
	PollingPeriodSeconds int64 `toml:"polling_period_seconds"`
	// ExpiryTimeoutSeconds is how long a capability refresh stays fresh.
	ExpiryTimeoutSeconds int64 `toml:"expiry_timeout_seconds"`
}

// SharingSettings controls content-sharing admission.
type SharingSettings struct {
	// MaxImageSize is the maximum accepted image size in bytes for
	// outbound image sharing. 0 means unlimited.
	MaxImageSize int64 `toml:"max_image_size"`
}

// ChatSettings controls messaging behaviour.
type ChatSettings struct {
	// Store-and-forward capabilities stay asserted for offline contacts
	// when the corresponding flag is on.
	ImStoreForwardAlwaysOn bool `toml:"im_store_forward_always_on"`
	FtStoreForwardAlwaysOn bool `toml:"ft_store_forward_always_on"`
}

// Default returns the settings used when no config file exists yet.
func Default() *Settings {
	return &Settings{
		DefaultProfile: "default",
		HTTPListenAddr: "127.0.0.1:7275",
		Capability: CapabilitySettings{
			PollingPeriodSeconds: 3600,
			ExpiryTimeoutSeconds: 3600,
		},
		Sharing: SharingSettings{
			MaxImageSize: 2 << 20,
		},
		Chat: ChatSettings{
			ImStoreForwardAlwaysOn: true,
			FtStoreForwardAlwaysOn: true,
		},
	}
}

// Load reads settings from the given path. Returns an error if the file
// is missing; callers that want defaults check os.IsNotExist.
func Load(path string) (*Settings, error) {
	var s Settings
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes settings to the given path, creating parent dirs as needed.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(s)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
