// Package mount declares and brokers the ephemeral resources attached to a
// single build instruction.
//
// Three kinds exist. A cache mount is a persistent directory keyed by a
// stable identity and reused across invocations; it is never part of the
// produced image and removing it changes speed, not outcome. A secret mount
// materializes one credential as a file (or an environment value) for the
// duration of the owning instruction only. An ssh mount forwards a live agent
// connection without writing key material anywhere.
//
// Mounts are instruction-scoped: nothing a mount exposes is committed to the
// stage filesystem unless the instruction itself copies it to a regular path.
// The package validates those rules, renders mounts for BuildKit, and turns
// them into OCI bind mounts for the containerd engine.
package mount
