// Package engine defines the port between the build driver and a container
// build engine.
//
// An engine turns a resolved plan into an untagged image. The image stays
// addressable by the ID in [Result] until it is either tagged or discarded,
// which lets the driver inspect it before anything can reference it by name.
//
// Two engines exist: [github.com/cruciblehq/cruxship/internal/engine/buildx]
// hands a rendered Dockerfile to BuildKit, and
// [github.com/cruciblehq/cruxship/internal/engine/local] executes the plan
// directly against containerd.
package engine
