package fflags

import (
	"fmt"
	"sort"

	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.uber.org/zap"
)

const (
	// LegacyIdentifiers lets heartbeats identify a device by its pre-project UUID.
	LegacyIdentifiers = "legacy-identifiers"
	// MigrationAPI exposes the legacy migration report over HTTP.
	MigrationAPI = "migration-api"
)

// FFlags answers feature flag queries from environment variables.
type FFlags struct {
	logger *zap.SugaredLogger
}

type FFlag struct {
	env          string
	defaultValue bool
}

var hardCodedFlags = map[string]FFlag{
	LegacyIdentifiers: {"GHAPI_FFLAG_LEGACY_IDENTIFIERS", true},
	MigrationAPI:      {"GHAPI_FFLAG_MIGRATION_API", false},
}

func NewFFlags(logger *zap.SugaredLogger) *FFlags {
	return &FFlags{
		logger: logger,
	}
}

func (f *FFlags) getFlagValue(fflag FFlag) bool {
	return util.GetenvBool(fflag.env, fflag.defaultValue)
}

// ListFlags returns every defined flag and whether it is enabled.
func (f *FFlags) ListFlags() map[string]bool {
	result := map[string]bool{}
	for name, fflag := range hardCodedFlags {
		result[name] = f.getFlagValue(fflag)
	}
	return result
}

// Names returns the defined flag names in a stable order.
func (f *FFlags) Names() []string {
	names := make([]string, 0, len(hardCodedFlags))
	for name := range hardCodedFlags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetFlag returns whether the named feature is enabled. An error is returned
// if the flag name is invalid.
func (f *FFlags) GetFlag(flag string) (bool, error) {
	fflag, ok := hardCodedFlags[flag]
	if !ok {
		f.logger.Errorf("Invalid feature flag name: %s", flag)
		return false, fmt.Errorf("invalid feature flag name: %s", flag)
	}
	return f.getFlagValue(fflag), nil
}

// Enabled is GetFlag for callers that treat an unknown flag as disabled.
func (f *FFlags) Enabled(flag string) bool {
	enabled, err := f.GetFlag(flag)
	return err == nil && enabled
}

// Env returns the environment variable that controls flag.
func (f *FFlags) Env(flag string) string {
	return hardCodedFlags[flag].env
}
