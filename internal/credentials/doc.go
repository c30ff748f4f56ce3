// Package credentials provisions the secrets a build consumes.
//
// A [Bundle] holds the build identity (an SSH key pair), the registry token,
// a known_hosts body built by actively scanning the hosts the build talks
// to, and the forwarded agent. The bundle is only ever handed to the build
// engine as instruction-scoped secret mounts; key material is never passed
// as a build arg, written into a stage, or logged. Logs carry fingerprints,
// paths and byte counts only.
package credentials
