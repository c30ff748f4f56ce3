// Package manifest loads the pipeline file.
//
// A pipeline file is HCL. It names the target stage and the image tag, lists
// the stages with their ordered steps, declares the credentials the build
// consumes and the deployment command that runs after a successful build.
//
//	target = "runtime"
//	tag    = "catscii"
//	squash = true
//
//	credentials {
//	  known_hosts = ["github.com"]
//	}
//
//	stage "base" {
//	  from = "ubuntu:22.04"
//	}
//
//	stage "builder" {
//	  from = "base"
//	  step "compile" {
//	    command  = "cargo build --release"
//	    output   = "target/release/catscii"
//	    artifact = "/out/catscii"
//	    mount "cache" { target = "/root/.cargo/registry" }
//	    mount "ssh" {}
//	  }
//	}
//
//	stage "runtime" {
//	  from = "base"
//	  cmd  = ["/app/catscii"]
//	  step "install" { packages = ["ca-certificates"] }
//	  step "artifact" { from = "builder" }
//	}
//
// Expressions may reference the invoking environment through env.NAME and
// the user's home directory through home.
package manifest
