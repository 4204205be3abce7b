package am

import (
	"github.com/spf13/viper"
)

// Defaults mirror the NHDPlus HR layout the pipeline was written for.
const (
	DefaultSeedWildcard     = "*_0"
	DefaultIdentifierField  = "Starting_NHDPlusID"
	DefaultJoinKey          = "NHDPlusID"
	DefaultEdgeClass        = "NHDFlowline"
	DefaultOutputPrefix     = "tempTrace_"
	DefaultStorePrefix      = "trace_"
	DefaultSpatialReference = 32618
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.dispatch_per_second", 0)

	v.SetDefault("trace.seed_wildcard", DefaultSeedWildcard)
	v.SetDefault("trace.identifier_field", DefaultIdentifierField)
	v.SetDefault("trace.join_key", DefaultJoinKey)
	v.SetDefault("trace.edge_class", DefaultEdgeClass)
	v.SetDefault("trace.output_prefix", DefaultOutputPrefix)
	v.SetDefault("trace.store_prefix", DefaultStorePrefix)

	v.SetDefault("aggregate.cooldown_seconds", 0) // readiness is signalled per job; no blind sleep
	v.SetDefault("aggregate.max_retries", 3)

	v.SetDefault("output.spatial_reference", DefaultSpatialReference)

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 0)
}

// Default returns a Config populated with defaults only
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode
		panic(err)
	}
	return cfg
}
