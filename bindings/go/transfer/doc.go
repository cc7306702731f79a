// Package transfer copies images between registries and archives.
//
// A Runner takes the TransferSpecs of an image list and works in three phases:
//
//  1. Expansion resolves every spec once at its Source into an Artifact and derives one Job
//     per platform manifest that passes the platform filters.
//  2. Execution runs all Jobs on a bounded worker pool. A failing Job never cancels others.
//  3. Commit hands the successful Jobs of every spec, in list order, to the Destination, which
//     tags the image or reconciles its manifest list (registry) or records it in the index (archive).
//
// Every spec that failed in any phase is recorded in the FailureTracker, which can be written
// as an image list to retry exactly the failed images.
package transfer
