package postprocess

import (
	"github.com/meigma/postprocess/cache"
	"github.com/meigma/postprocess/command"
	"github.com/meigma/postprocess/contenthash"
	"github.com/meigma/postprocess/journal"
	"github.com/meigma/postprocess/reconcile"
)

// Errors re-exported from contenthash.
var (
	// ErrNotFound is returned when a file that must exist is missing.
	ErrNotFound = contenthash.ErrNotFound

	// ErrNotAFile is returned when a path names a directory or other
	// non-regular entry.
	ErrNotAFile = contenthash.ErrNotAFile
)

// Errors re-exported from command.
var (
	// ErrUnknownCommand is returned for a command line matching neither verb.
	ErrUnknownCommand = command.ErrUnknownCommand

	// ErrMissingCacheEntry is returned when a load references an absent blob.
	ErrMissingCacheEntry = command.ErrMissingCacheEntry
)

// Errors re-exported from reconcile.
var (
	// ErrMissingSnapshotEntry is returned when a journal path is absent from
	// the snapshot.
	ErrMissingSnapshotEntry = reconcile.ErrMissingSnapshotEntry

	// ErrMissingOutput is returned when a transformation output does not exist.
	ErrMissingOutput = reconcile.ErrMissingOutput
)

// Errors re-exported from cache and journal.
var (
	// ErrCacheMiss is returned when no blob exists for a digest.
	ErrCacheMiss = cache.ErrMiss

	// ErrDigestMismatch is returned when cached content does not match its digest.
	ErrDigestMismatch = cache.ErrDigestMismatch

	// ErrMalformedJournal is returned for journal or snapshot documents with
	// an unexpected shape.
	ErrMalformedJournal = journal.ErrMalformed

	// ErrDuplicateSource is returned when a journal lists a source twice.
	ErrDuplicateSource = journal.ErrDuplicateSource
)
