// Package config provides YAML/env-layered configuration for the DSM engine.
package config

import "time"

// Path Normalizer (C1) defaults.
const (
	DefaultThirdPartyGlob = "*/ThirdParty/*"
)

// DefaultSystemPrefixes is the default for filter.system_prefixes; a
// configured list replaces it rather than adding to it.
var DefaultSystemPrefixes = []string{"/usr/", "/lib/", "/opt/"}

// Scan Ingestor (C2) defaults.
const (
	DefaultIngestWorkers      = 0 // 0 means runtime.GOMAXPROCS(0)
	DefaultScannerTimeout     = 5 * time.Minute
	DefaultCMSProxyThreshold  = 2000
	DefaultCMSWidth           = 2048
	DefaultCMSDepth           = 4
)

// DSM Metric Engine (C4) defaults, per spec.md §4.2.
const (
	DefaultPageRankDamping        = 0.85
	DefaultPageRankTolerance      = 1e-6
	DefaultPageRankMaxIterations  = 100
	DefaultBetweennessNodeCeiling = 5000
	DefaultBetweennessSampleSize  = 500
	DefaultBetweennessSeed        = 0x44534D66306726
)

// Rebuild Impact (C5) / Differential Analyzer (C8) / Advisor (C9) defaults.
const (
	DefaultCouplingChangeThreshold = 5
	DefaultStabilityThreshold      = 0.5
	DefaultAverageCommitsAffected  = 10
	DefaultGodObjectFanOutMin      = 50
	DefaultUnstableFanInMin        = 10
	DefaultCouplingOutlierSigma    = 2.5
	DefaultHubPercentile           = 0.99
)

// Cache (C10) / resource-ceiling (§5) defaults.
const (
	DefaultCacheBackend     = "local"
	DefaultCacheDirectory   = ".dsmcache"
	DefaultCacheMaxSize     = "1GB"
	DefaultCacheTTL         = 24 * time.Hour
	DefaultLargeGraphNodes  = 50000
	DefaultMaxGraphMemory   = 0 // 0 disables the hard ceiling
	DefaultLRUHotSetEntries = 256
	DefaultBloomFalsePosRate = 0.01
)
