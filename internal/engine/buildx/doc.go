// Package buildx builds images with BuildKit through the docker CLI.
//
// The plan is rendered as a Dockerfile and passed to "docker build" together
// with the bound secrets and the forwarded agent. BuildKit exposes each to
// the single RUN instruction declaring its mount and never snapshots them.
// The image is built untagged and identified by the id BuildKit writes to an
// iid file. Tagging, export and removal go through the docker API.
//
// Example:
//
//	cli, err := buildx.Connect()
//	if err != nil {
//		return err
//	}
//	eng := buildx.New(command.Exec{}, cli)
//	result, err := eng.Build(ctx, engine.Request{Plan: plan, Secrets: set})
package buildx
