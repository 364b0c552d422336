package pm

import "time"

// Package is an installed Android package as reported by the package manager.
type Package struct {
	Name             string
	Label            string
	VersionName      string
	VersionCode      int64
	UID              int
	IsSystem         bool
	FirstInstallTime time.Time
}

// StorageStats is a size snapshot of one package's storage.
type StorageStats struct {
	AppBytes           int64 `json:"app_bytes"`
	CacheBytes         int64 `json:"cache_bytes"`
	DataBytes          int64 `json:"data_bytes"`
	ExternalCacheBytes int64 `json:"external_cache_bytes"`
}

// Total returns the sum of app and data bytes.
func (s StorageStats) Total() int64 {
	return s.AppBytes + s.DataBytes
}
