// Package config loads the gateway's configuration: environment variables
// per the external interfaces table, optionally overlaid with a TOML file
// for operator-facing settings that don't belong in the process environment
// (MTA/IMAP driver commands, JWT clock tolerance, ...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DatabaseURL          string
	MotoricalDatabaseURL string // legacy outbound-credential store, for C7

	MaildirRoot  string
	TransportMap string

	JWTPublicKeyB64    string
	JWTAlgorithm       string
	JWTAudience        string
	JWTIssuer          string
	JWTClockToleranceS int

	APIPort     int
	IntakePort  int
	MetricsPort int

	LogLevel  string
	LogFormat string

	MTAReloadCmd  string
	MTACompileCmd string
	IMAPCredFile  string
	IMAPReloadCmd string
}

// FileConfig is the shape of the optional TOML overlay (CONFIG_FILE).
type FileConfig struct {
	MTA struct {
		ReloadCmd  string `toml:"reload_cmd"`
		CompileCmd string `toml:"compile_cmd"`
	} `toml:"mta"`
	IMAP struct {
		CredFile  string `toml:"cred_file"`
		ReloadCmd string `toml:"reload_cmd"`
	} `toml:"imap"`
	JWT struct {
		ClockToleranceSec int `toml:"clock_tolerance_sec"`
	} `toml:"jwt"`
}

// Default returns a Config with the documented defaults applied.
func Default() Config {
	return Config{
		MaildirRoot:        "/var/lib/encimap/mail",
		TransportMap:       "/etc/postfix/encimap_transport",
		APIPort:            4301,
		IntakePort:         4321,
		MetricsPort:        9101,
		LogLevel:           "info",
		LogFormat:          "text",
		JWTAlgorithm:       "RS256",
		JWTClockToleranceS: 30,
		MTAReloadCmd:       "postfix reload",
		MTACompileCmd:      "postmap",
		IMAPCredFile:       "/etc/dovecot/encimap-users",
		IMAPReloadCmd:      "doveadm reload",
	}
}

// Load resolves configuration from the environment, overlaid with
// CONFIG_FILE (TOML) when present. Precedence: environment > file > default.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		var fc FileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if fc.MTA.ReloadCmd != "" {
			cfg.MTAReloadCmd = fc.MTA.ReloadCmd
		}
		if fc.MTA.CompileCmd != "" {
			cfg.MTACompileCmd = fc.MTA.CompileCmd
		}
		if fc.IMAP.CredFile != "" {
			cfg.IMAPCredFile = fc.IMAP.CredFile
		}
		if fc.IMAP.ReloadCmd != "" {
			cfg.IMAPReloadCmd = fc.IMAP.ReloadCmd
		}
		if fc.JWT.ClockToleranceSec != 0 {
			cfg.JWTClockToleranceS = fc.JWT.ClockToleranceSec
		}
	}

	applyEnv(&cfg)

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("config: DATABASE_URL is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MotoricalDatabaseURL, "MOTORICAL_DATABASE_URL")
	setString(&cfg.MaildirRoot, "MAILDIR_ROOT")
	setString(&cfg.TransportMap, "TRANSPORT_MAP")
	setString(&cfg.JWTPublicKeyB64, "JWT_PUBLIC_KEY")
	setString(&cfg.JWTAlgorithm, "JWT_ALGORITHM")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.MTAReloadCmd, "MTA_RELOAD_CMD")
	setString(&cfg.MTACompileCmd, "MTA_COMPILE_CMD")
	setString(&cfg.IMAPCredFile, "IMAP_CRED_FILE")
	setString(&cfg.IMAPReloadCmd, "IMAP_RELOAD_CMD")

	setInt(&cfg.APIPort, "API_PORT")
	setInt(&cfg.IntakePort, "INTAKE_PORT")
	setInt(&cfg.MetricsPort, "METRICS_PORT")
	setInt(&cfg.JWTClockToleranceS, "JWT_CLOCK_TOLERANCE_SEC")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// ClockTolerance returns JWTClockToleranceS as a time.Duration.
func (c Config) ClockTolerance() time.Duration {
	return time.Duration(c.JWTClockToleranceS) * time.Second
}
