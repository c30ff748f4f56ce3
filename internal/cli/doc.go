// Parses flags, configures logging and runs cruxship commands.
//
// The root command accepts the following flags:
//
//	-q, --quiet       Suppress informational output.
//	-v, --verbose     Enable verbose output.
//	-d, --debug       Enable debug output.
//	-f, --file        Pipeline file (default "cruxship.hcl").
//	    --engine      Build engine: "buildx" or "local".
//	    --no-cache    Build without cache mounts.
//	    --build-arg   Override a build arg (NAME=VALUE, repeatable).
//	    --secret      Bind a secret (id=ID,src=PATH, repeatable).
//	    --containerd-address, --containerd-namespace, --containerd-platform
//	                  Containerd connection used by the local engine.
//
// Running cruxship without a command runs "deploy". Flags override
// build-time defaults set via linker flags. After parsing, the global logger
// is reconfigured to reflect the final level and verbosity before the
// command runs.
package cli
