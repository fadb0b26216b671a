package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STORESYNC_"

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"STORE_ID", setString(func(c *Config) *string { return &c.StoreID })},
	{"DATABASE", setString(func(c *Config) *string { return &c.Database })},
	{"CENTRAL_URL", setString(func(c *Config) *string { return &c.Central.URL })},
	{"API_TOKEN", setString(func(c *Config) *string { return &c.Central.Token })},
	{"REQUEST_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Central.Timeout })},
	{"SYNC_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Sync.Interval })},
	{"PROBE_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Sync.ProbeInterval })},
	{"MAX_RETRIES", setInt(func(c *Config) *int { return &c.Sync.MaxRetries })},
	{"CONFLICT_POLICY", setString(func(c *Config) *string { return &c.Sync.Policy })},
	{"WATCHED_TYPES", setList(func(c *Config) *[]string { return &c.Sync.WatchedTypes })},
	{"REPLICATION_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Replication.Interval })},
	{"INCLUDE_INACTIVE", setBool(func(c *Config) *bool { return &c.Replication.IncludeInactive })},
	{"CONSOLIDATION_STORES", setList(func(c *Config) *[]string { return &c.Consolidation.StoreIDs })},
	{"SEAL_PASSPHRASE", setString(func(c *Config) *string { return &c.Sealing.Passphrase })},
	{"ARCHIVE_BUCKET", setString(func(c *Config) *string { return &c.Archive.Bucket })},
	{"ARCHIVE_REGION", setString(func(c *Config) *string { return &c.Archive.Region })},
	{"ARCHIVE_ENDPOINT", setString(func(c *Config) *string { return &c.Archive.Endpoint })},
	{"ARCHIVE_PREFIX", setString(func(c *Config) *string { return &c.Archive.Prefix })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// setList splits a comma separated value, dropping empty items.
func setList(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		out := []string{}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(c) = out
		return nil
	}
}
