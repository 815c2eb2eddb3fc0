package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedLabels maps external event summaries to segment kinds. Matching is
// case-insensitive on the trimmed summary.
type FeedLabels struct {
	Reserved []string `yaml:"reserved" json:"reserved"`
	Blocked  []string `yaml:"blocked" json:"blocked"`
}

// Policy holds the business rules a host operator may tune without a
// deploy. It lives in a YAML file next to the data directory.
type Policy struct {
	// OccupancyExcludedRoom is left out of the total occupancy denominator.
	OccupancyExcludedRoom string `yaml:"occupancy_excluded_room" json:"occupancy_excluded_room"`

	FeedLabels FeedLabels `yaml:"feed_labels" json:"feed_labels"`

	// PhoneRegion is the CLDR region used to parse guest phone numbers
	// written without an international prefix.
	PhoneRegion string `yaml:"phone_region" json:"phone_region"`

	// SyncCron schedules the background feed sync. Empty disables it.
	SyncCron string `yaml:"sync_cron" json:"sync_cron"`

	// HorizonDays bounds recurring feed events expansion.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	AdvisoryTTLHours  int `yaml:"advisory_ttl_hours" json:"advisory_ttl_hours"`
	FeedCacheTTLHours int `yaml:"feed_cache_ttl_hours" json:"feed_cache_ttl_hours"`
}

func DefaultPolicy() *Policy {
	return &Policy{
		OccupancyExcludedRoom: "",
		FeedLabels: FeedLabels{
			Reserved: []string{"Reserved"},
			Blocked:  []string{"Not available", "Airbnb (Not available)"},
		},
		PhoneRegion:       "ES",
		SyncCron:          "0 */6 * * *",
		HorizonDays:       365,
		AdvisoryTTLHours:  24,
		FeedCacheTTLHours: 72,
	}
}

func (p *Policy) Normalize() {
	defaults := DefaultPolicy()
	p.OccupancyExcludedRoom = strings.TrimSpace(p.OccupancyExcludedRoom)
	if len(p.FeedLabels.Reserved) == 0 {
		p.FeedLabels.Reserved = defaults.FeedLabels.Reserved
	}
	if len(p.FeedLabels.Blocked) == 0 {
		p.FeedLabels.Blocked = defaults.FeedLabels.Blocked
	}
	p.PhoneRegion = strings.ToUpper(strings.TrimSpace(p.PhoneRegion))
	if p.PhoneRegion == "" {
		p.PhoneRegion = defaults.PhoneRegion
	}
	p.SyncCron = strings.TrimSpace(p.SyncCron)
	if p.HorizonDays <= 0 {
		p.HorizonDays = defaults.HorizonDays
	}
	if p.AdvisoryTTLHours <= 0 {
		p.AdvisoryTTLHours = defaults.AdvisoryTTLHours
	}
	if p.FeedCacheTTLHours <= 0 {
		p.FeedCacheTTLHours = defaults.FeedCacheTTLHours
	}
}

func (p *Policy) AdvisoryTTL() time.Duration {
	return time.Duration(p.AdvisoryTTLHours) * time.Hour
}

func (p *Policy) FeedCacheTTL() time.Duration {
	return time.Duration(p.FeedCacheTTLHours) * time.Hour
}

// LoadPolicy reads the policy file. On first run the file does not exist;
// the defaults are written to path with 0600 permissions and returned.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return nil, errors.New("policy path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			policy := DefaultPolicy()
			if err := SavePolicy(path, policy); err != nil {
				return policy, err
			}
			return policy, nil
		}
		return nil, err
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, err
	}
	policy.Normalize()
	return &policy, nil
}

// SavePolicy writes atomically through a temp file in the same directory.
func SavePolicy(path string, policy *Policy) error {
	if path == "" {
		return errors.New("policy path is empty")
	}
	if policy == nil {
		return errors.New("policy is nil")
	}
	policy.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(policy)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".staycal-policy-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
