package constants

// Hashing constants
const (
	// PartialHashBytes is the number of leading bytes hashed for the quick pass
	PartialHashBytes = 64 * 1024

	// FullHashBufferSize is the read buffer size for full-content hashing
	FullHashBufferSize = 1024 * 1024

	// HashSizeBytes is the digest length in bytes (128-bit truncation)
	HashSizeBytes = 16
)

// Worker pool constants
const (
	// QueueSizeMultiplier sizes the submission queue as a multiple of the pool size
	QueueSizeMultiplier = 4

	// DefaultMaxWorkers is the worker cap when the config does not set one
	DefaultMaxWorkers = 8
)

// Batch write constants
const (
	// FingerprintBatchSize is the maximum fingerprint upserts per transaction
	FingerprintBatchSize = 500

	// SessionFileBatchSize is the maximum session file inserts per transaction
	SessionFileBatchSize = 1000

	// SessionHashBatchSize is the maximum session hash writes per transaction
	SessionHashBatchSize = 200
)

// Progress throttling constants
const (
	// UIProgressIntervalMS is the minimum interval between UI progress emissions
	UIProgressIntervalMS = 100

	// DBProgressIntervalMS is the minimum interval between persisted progress updates
	DBProgressIntervalMS = 500
)

// Telemetry constants
const (
	// MaxSampledErrorPaths caps the number of failing paths kept per error class
	MaxSampledErrorPaths = 20

	// MaxStoredErrors is the maximum number of error messages kept in memory
	MaxStoredErrors = 1000

	// ErrorSliceCapacity is the initial capacity for error slices
	ErrorSliceCapacity = 100

	// LogChannelBuffer is the buffer size for log channels
	LogChannelBuffer = 100

	// LogListenerBuffer is the buffer size for individual log listeners
	LogListenerBuffer = 50
)

// Retention constants
const (
	// DefaultFingerprintMaxAgeDays is the default last-seen age before a cache row is swept
	DefaultFingerprintMaxAgeDays = 180

	// DefaultKeepSessions is the default number of newest sessions retained
	DefaultKeepSessions = 20
)

// Perceptual hashing constants
const (
	// PerceptualHashBits is the width of the DCT perceptual hash
	PerceptualHashBits = 64
)

// ByteCompareBufferSize is the chunk size for byte-exact verification reads
const ByteCompareBufferSize = 256 * 1024
