// Package cachekey derives deterministic object store keys for chapter audio.
//
// The generation worker writes chapters under the same keys, so the hash and
// layout here must not change without bumping Version.
package cachekey
