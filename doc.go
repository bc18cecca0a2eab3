// Package postprocess reconciles the effects of a content-transforming
// filter with a content-addressed cache, so a later pipeline run can tell
// whether earlier outputs are still valid without running the filter again.
//
// A run consists of three steps, always in this order:
//
//  1. Replay the deferred command list (delete / load) left by the filter
//     against the working tree. See [command].
//  2. Reconcile the filter's raw action journal into a provenance journal:
//     every path is qualified with the digest of its content, taken from
//     the pre-run snapshot for deleted and source files and from the
//     current tree for outputs. Outputs are copied into the cache. See
//     [reconcile].
//  3. Write the provenance journal atomically.
//
// The snapshot must be captured before the filter runs, with [Runner.Snapshot]
// or any producer writing the same format.
//
// # Quick Start
//
//	cfg, err := postprocess.LoadConfig()
//	if err != nil {
//	    return err
//	}
//	r, err := postprocess.New(cfg, postprocess.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	report, err := r.Run(ctx)
//
// # Files
//
// Paths default to the layout below, relative to Config.WorkDir:
//   - data/.cache/postprocessing: deferred commands, one per line
//   - data/.cache/actions_log.json: raw journal
//   - data/.cache/file_stats.json: pre-run snapshot
//   - data/.cache/previous_actions.json: provenance journal (output)
//   - data/.cache/files/: cache blobs named by hex digest
package postprocess
