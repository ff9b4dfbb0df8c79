// Package config provides configuration management for zcomp.
//
// # Key Features
//
// - Config: single structure used by the CLI, the block store and the pool
// - Structured sections: Pool, Store, Memory, Logging, Observability, Bench
// - YAML files loaded through viper
// - ZCOMP_* environment overrides, with "." in keys replaced by "_"
// - Automatic defaults and validation
//
// # Usage
//
//	cfg, err := config.Load("zcomp.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Overrides
//
//	ZCOMP_POOL_ALGORITHM=zstd ZCOMP_POOL_MAX_STREAMS=8 zcomp bench
//
// ## Printing the Effective Configuration
//
//	out, _ := cfg.Marshal()
//	os.Stdout.Write(out)
package config
