// Package local builds images by executing plans directly against
// containerd.
//
// Each build runs in a private scratch directory holding the secret files
// bound into mounted steps and the exported archive of the target stage.
// The archive's digest identifies the untagged image. Tagging imports the
// archive into containerd under the requested name; discarding removes the
// scratch directory.
//
// The target is always exported as its base image plus a single layer
// holding the target stage's own work, so squashing is implied.
package local
