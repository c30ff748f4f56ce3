// Package confine verifies that an image archive holds no credential
// material.
//
// The archive produced by "docker save" or an OCI image layout is walked
// entry by entry. Layer blobs are decompressed (gzip or zstd) and every file
// they contain is searched, by name and by content, for the byte strings the
// caller supplies. Non-layer blobs such as image configs and manifests are
// searched as well, since build history and labels live there.
//
// Findings name where the material was found, never the material itself.
package confine
