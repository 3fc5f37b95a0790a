// Package config loads, normalizes, and validates novelverse configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, applies an optional .env file, and honours
// environment fallbacks such as BUCKET, SPOT_API_BASE, and RUNPOD_API_KEY. The
// Config type centralizes every knob the daemon and CLI need, from the object
// store location to the client buffering thresholds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
