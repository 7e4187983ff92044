// Package config defines the kernel's YAML-loaded tunables, following the
// default-then-range-check convention of session.TCPConfig.check(): zero
// values in the loaded file fall back to the documented default, and
// out-of-range non-zero values panic rather than silently clamp.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kernel holds every tunable a brand kernel consults: timeouts, risk
// parameters, and the SoftPOS force-online policy. The zero value is not
// usable; load with Load or construct and call Check.
type Kernel struct {
	// Timeouts, EMV. Zero means "use the documented default".
	WaitForCardTimeout    time.Duration `yaml:"wait_for_card_timeout"`
	PerCommandTimeout     time.Duration `yaml:"per_command_timeout"`
	OverallTimeout        time.Duration `yaml:"overall_timeout"`
	OnlineResponseTimeout time.Duration `yaml:"online_response_timeout"`

	// MaxTryAgainAttempts bounds card-removal-before-GenerateAC retries,
	// EMV.
	MaxTryAgainAttempts int `yaml:"max_try_again_attempts"`

	// CVMRequiredLimit is the contactless CVM-required threshold
	// (minor currency units), EMV step 7.
	CVMRequiredLimit int64 `yaml:"cvm_required_limit"`

	// ContactlessTransactionLimit is the amount above which terminal risk
	// management sets the TVR UCOL bit, EMV step 8.
	ContactlessTransactionLimit int64 `yaml:"contactless_transaction_limit"`

	// FloorLimit triggers a terminal-risk-management TVR bit when the
	// amount exceeds it, EMV step 8.
	FloorLimit int64 `yaml:"floor_limit"`

	// RandomSelectionPercent is the terminal risk management random
	// selection target, 0-100.
	RandomSelectionPercent int `yaml:"random_selection_percent"`

	// ForceOnline makes terminal action analysis always request an
	// ARQC, per EMV step 9's SoftPOS policy override.
	ForceOnline bool `yaml:"force_online"`

	// RevocationCheckOnline enables live CRL refresh for every
	// transaction rather than relying on the cached revocation table.
	RevocationCheckOnline bool `yaml:"revocation_check_online"`

	// Trace enables per-transition and per-APDU debug logging.
	Trace bool `yaml:"trace"`

	// Terminal Action Codes, EMV step 9, each a 10-hex-digit
	// (5-byte) string. Empty means "all zero bits" (no terminal-side
	// denial/online/default policy beyond the card's Issuer Action Codes).
	TACDenialHex string `yaml:"tac_denial"`
	TACOnlineHex string `yaml:"tac_online"`
	TACDfltHex   string `yaml:"tac_default"`

	// TACDenial, TACOnline, TACDflt are TACDenialHex etc. decoded by
	// Check; consulted by the kernel's terminal action analysis step.
	TACDenial [5]byte `yaml:"-"`
	TACOnline [5]byte `yaml:"-"`
	TACDflt   [5]byte `yaml:"-"`

	// TerminalApplicationVersionHex is this terminal's reference
	// Application Version Number, a 4-hex-digit (2-byte) string compared
	// against the card's tag 9F09 during processing restrictions. Empty
	// defaults to DefaultTerminalApplicationVersion.
	TerminalApplicationVersionHex string `yaml:"terminal_application_version"`

	// TerminalApplicationVersion is TerminalApplicationVersionHex decoded
	// by Check.
	TerminalApplicationVersion [2]byte `yaml:"-"`
}

// Defaults, matched to the contactless kernel's documented fallback values.
const (
	DefaultWaitForCardTimeout    = 60 * time.Second
	DefaultPerCommandTimeout     = 3 * time.Second
	DefaultOverallTimeout        = 30 * time.Second
	DefaultOnlineResponseTimeout = 45 * time.Second
	DefaultMaxTryAgainAttempts   = 3
)

// DefaultTerminalApplicationVersion is used when
// TerminalApplicationVersionHex is unset.
var DefaultTerminalApplicationVersion = [2]byte{0x00, 0x01}

// Load reads a YAML kernel configuration from path and applies Check.
func Load(path string) (*Kernel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	var k Kernel
	if err := yaml.Unmarshal(raw, &k); err != nil {
		return nil, errors.Wrap(err, "config: parse YAML")
	}
	return k.Check(), nil
}

// Check applies the documented default for every unspecified value and
// panics if a specified value is out of range, matching
// session.TCPConfig.check()'s contract.
func (k *Kernel) Check() *Kernel {
	if k.WaitForCardTimeout == 0 {
		k.WaitForCardTimeout = DefaultWaitForCardTimeout
	} else if k.WaitForCardTimeout < time.Second || k.WaitForCardTimeout > 5*time.Minute {
		panic("config: wait_for_card_timeout not in [1s, 5m]")
	}

	if k.PerCommandTimeout == 0 {
		k.PerCommandTimeout = DefaultPerCommandTimeout
	} else if k.PerCommandTimeout < 100*time.Millisecond || k.PerCommandTimeout > 30*time.Second {
		panic("config: per_command_timeout not in [100ms, 30s]")
	}

	if k.OverallTimeout == 0 {
		k.OverallTimeout = DefaultOverallTimeout
	} else if k.OverallTimeout < time.Second || k.OverallTimeout > 5*time.Minute {
		panic("config: overall_timeout not in [1s, 5m]")
	}

	if k.OnlineResponseTimeout == 0 {
		k.OnlineResponseTimeout = DefaultOnlineResponseTimeout
	} else if k.OnlineResponseTimeout < time.Second || k.OnlineResponseTimeout > 3*time.Minute {
		panic("config: online_response_timeout not in [1s, 3m]")
	}

	if k.MaxTryAgainAttempts == 0 {
		k.MaxTryAgainAttempts = DefaultMaxTryAgainAttempts
	} else if k.MaxTryAgainAttempts < 0 || k.MaxTryAgainAttempts > 10 {
		panic("config: max_try_again_attempts not in [0, 10]")
	}

	if k.RandomSelectionPercent < 0 || k.RandomSelectionPercent > 100 {
		panic("config: random_selection_percent not in [0, 100]")
	}

	if k.CVMRequiredLimit < 0 || k.ContactlessTransactionLimit < 0 || k.FloorLimit < 0 {
		panic("config: limits must be non-negative")
	}

	k.TACDenial = decodeTAC(k.TACDenialHex, "tac_denial")
	k.TACOnline = decodeTAC(k.TACOnlineHex, "tac_online")
	k.TACDflt = decodeTAC(k.TACDfltHex, "tac_default")

	if k.TerminalApplicationVersionHex == "" {
		k.TerminalApplicationVersion = DefaultTerminalApplicationVersion
	} else {
		raw, err := hex.DecodeString(k.TerminalApplicationVersionHex)
		if err != nil || len(raw) != 2 {
			panic("config: terminal_application_version must be 4 hex digits")
		}
		copy(k.TerminalApplicationVersion[:], raw)
	}

	return k
}

func decodeTAC(s, field string) [5]byte {
	var out [5]byte
	if s == "" {
		return out
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 5 {
		panic("config: " + field + " must be 10 hex digits")
	}
	copy(out[:], raw)
	return out
}
