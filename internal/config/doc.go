// Package config provides centralized configuration management for the
// ReasonChain daemon. Settings are loaded from a single JSON file once at
// startup, with documented defaults merged over the caller's input, and the
// resulting struct is passed by reference to downstream services.
package config
