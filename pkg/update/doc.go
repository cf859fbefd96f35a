// Package update provides small, dependency-free helpers for validating and
// comparing release versions and for deciding whether an update should proceed.
//
// It is used by the release feed to decide whether a fetched release is newer
// than the installed bundle, and by the cache to find "this and prior" releases.
//
// This package intentionally does not perform downloads, signature verification,
// checksum verification, or installation.
//
// Version model
//   - Dotted numeric strings with at least two components, with or without a
//     leading "v" ("1.2", "v1.2.3", "1.2.3.4"), optionally followed by a
//     prerelease qualifier and/or build metadata ("v0.2.5-rc1", "1.0.0+build123").
//   - Components compare numerically; a missing component counts as zero.
//   - Prerelease precedence follows SemVer: "0.2.5-rc1" < "0.2.5".
//   - "dev", "0.0.0-dev", and empty versions are treated as non-comparable.
package update
