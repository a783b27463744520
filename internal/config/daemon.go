// Package config implements the daemon's own startup configuration
// (TOML, via github.com/BurntSushi/toml) plus codecs for the bespoke
// printers.conf/classes.conf/subscriptions.conf block formats of §6,
// which the core only consumes in already-decoded form. Grounded on
// original_source/scheduler/conf.c for the recognized keys and on
// printers.c/classes.c/subscriptions.c for the block-delimited file
// shapes.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/printspool/printspoold/internal/errs"
)

// Daemon is the process's own startup configuration: listen addresses,
// spool root, resource caps (§5), quota defaults, and the conflict
// resolver's iteration bound (§4.4).
type Daemon struct {
	Listen []string `toml:"listen"`

	SpoolRoot  string `toml:"spool_root"`
	SpoolUID   int    `toml:"spool_uid"`
	SpoolGID   int    `toml:"spool_gid"`

	CertRoot       string `toml:"cert_root"`
	SystemGroupGID int    `toml:"system_group_gid"`

	PrintersConfPath      string `toml:"printers_conf"`
	ClassesConfPath       string `toml:"classes_conf"`
	SubscriptionsConfPath string `toml:"subscriptions_conf"`
	PrintcapPath          string `toml:"printcap_path"`
	PrintcapFormat        string `toml:"printcap_format"` // "colon" or "tabular"

	MaxClientSessions         int `toml:"max_client_sessions"`
	MaxSessionsPerAddress     int `toml:"max_sessions_per_address"`
	MaxSubscriptionsTotal     int `toml:"max_subscriptions_total"`
	MaxSubscriptionsPerPrinter int `toml:"max_subscriptions_per_printer"`
	MaxSubscriptionsPerJob    int `toml:"max_subscriptions_per_job"`
	MaxEventsPerSubscription  int `toml:"max_events_per_subscription"`
	MaxJobHistory             int `toml:"max_job_history"`

	DefaultQuotaPeriodSeconds int `toml:"default_quota_period_seconds"`
	ConflictResolverMaxIter   int `toml:"conflict_resolver_max_iterations"`

	HostnameLookups bool   `toml:"hostname_lookups"`
	ServerAddress   string `toml:"server_address"`
	ServerName      string `toml:"server_name"`

	LogLevel string `toml:"log_level"`
}

// Default returns a Daemon populated with the documented defaults
// (including the conflict resolver's iteration bound of 100, per §9's
// open-question decision to preserve-but-expose it).
func Default() Daemon {
	return Daemon{
		Listen:                    []string{"localhost:631"},
		PrintcapFormat:            "colon",
		MaxClientSessions:         256,
		MaxSessionsPerAddress:     16,
		MaxSubscriptionsTotal:     4096,
		MaxSubscriptionsPerPrinter: 256,
		MaxSubscriptionsPerJob:    16,
		MaxEventsPerSubscription:  32,
		MaxJobHistory:             512,
		DefaultQuotaPeriodSeconds: int(24 * time.Hour / time.Second),
		ConflictResolverMaxIter:   100,
		LogLevel:                  "info",
	}
}

// Load decodes a Daemon config from a TOML file at path, starting from
// Default() so unset fields keep their defaults.
func Load(path string) (Daemon, error) {
	d := Default()
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return Daemon{}, errs.Wrap(errs.ConfigParse, "decode daemon config "+path, err)
	}
	return d, nil
}
