package models

// FeatureFlag is the state of one server feature flag.
type FeatureFlag struct {
	Name    string `json:"name" example:"legacy-identifiers"`
	Enabled bool   `json:"enabled"`
	Env     string `json:"env" example:"GHAPI_FFLAG_LEGACY_IDENTIFIERS"`
}
