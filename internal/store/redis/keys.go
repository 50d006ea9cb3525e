package redis

// Delayed entries and failures live under the "jobretry:" prefix. Attempt
// counters use the retry key as is so other tools sharing the Redis
// deployment can find them.
const keyPrefix = "jobretry:"

const (
	// delayedIndexKey is a Sorted Set of entry ids scored by run time in ms.
	delayedIndexKey = keyPrefix + "delayed"
	// delayedDataKey is a Hash of entry id to JSON entry.
	delayedDataKey = keyPrefix + "delayed:data"
	// delayedCorruptKey is a List of claimed entry documents that could not
	// be decoded, kept for manual inspection.
	delayedCorruptKey = keyPrefix + "delayed:corrupt"
	// failuresIndexKey is a Sorted Set of failure ids scored by failure time in ms.
	failuresIndexKey = keyPrefix + "failures"
	// failuresDataKey is a Hash of failure id to JSON record.
	failuresDataKey = keyPrefix + "failures:data"
)
