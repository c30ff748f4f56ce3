// Package graph resolves the stages a build target needs.
//
// A stage depends on the stage it derives from and on every stage it copies
// files or artifacts out of. Resolution walks those edges from the target
// and returns the reachable stages in dependency order, each exactly once.
// Stages the target cannot reach are left out of the plan and never run.
package graph
