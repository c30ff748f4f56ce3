// Package cache manages the persistent directories behind cache mounts.
//
// Cache mounts are the only state shared between invocations. A [Store]
// hands out one directory per cache identity and records when each was
// created and last used, so repeated builds find the toolchain, package
// index and incremental output of the previous run. Nothing in a store is a
// source of truth: any directory may be pruned and the next build recreates
// it empty.
//
// [Local] keeps the directories under the user's cache home and indexes them
// in a bbolt database. The database file lock is held for as long as the
// store is open, which serializes concurrent invocations that share caches.
package cache
