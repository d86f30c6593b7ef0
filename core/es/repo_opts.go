package es

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDGenerator is a function that generates unique IDs for events.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

const (
	// DefaultSnapshotEvery is the default snapshot cadence: a snapshot is
	// written whenever a save crosses a multiple of this many versions.
	DefaultSnapshotEvery = 50

	defaultStoreRetries    = 3
	defaultConflictRetries = 3
)

type (
	repoOpts struct {
		snapshotter   Snapshotter
		snapshotEvery Version
		idGenerator   IDGenerator
		metrics       ESMetrics
		storeRetries  uint
	}

	repoSaveOptions struct {
		expectedVersion *Version
		skipValidation  bool
		skipSnapshot    bool
		forceSnapshot   bool
		meta            Metadata
	}

	repoLoadOptions struct {
		snapshot       bool
		maxSnapshotAge time.Duration
	}
)

type (
	RepositoryOption interface{ applyToRepository(*repoOpts) }
	SaveOption       interface{ applyToSaveOptions(*repoSaveOptions) }
	LoadOption       interface{ applyToLoadOptions(*repoLoadOptions) }

	SnapshotterOption     valueOption[Snapshotter]
	SnapshotEveryOption   valueOption[Version]
	RepoIDGeneratorOption valueOption[IDGenerator]
	StoreRetriesOption    valueOption[uint]

	expectedVersionOption valueOption[Version]
	skipValidationOption  struct{}
	skipSnapshotOption    struct{}
	forceSnapshotOption   struct{}
	metadataOption        valueOption[Metadata]

	withoutSnapshotOption struct{}
	maxSnapshotAgeOption  valueOption[time.Duration]
)

func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

// WithSnapshotEvery sets the snapshot cadence in versions. 0 disables
// cadence-based snapshots.
func WithSnapshotEvery(every Version) SnapshotEveryOption { return SnapshotEveryOption{v: every} }

// WithIDGenerator sets a custom ID generator for event envelope IDs.
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption {
	return RepoIDGeneratorOption{v: gen}
}

// WithStoreRetries bounds the internal retries of transient store failures.
func WithStoreRetries(n uint) StoreRetriesOption { return StoreRetriesOption{v: n} }

func (o SnapshotterOption) applyToRepository(r *repoOpts)     { r.snapshotter = o.v }
func (o SnapshotEveryOption) applyToRepository(r *repoOpts)   { r.snapshotEvery = o.v }
func (o RepoIDGeneratorOption) applyToRepository(r *repoOpts) { r.idGenerator = o.v }
func (o StoreRetriesOption) applyToRepository(r *repoOpts)    { r.storeRetries = o.v }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		snapshotEvery: DefaultSnapshotEvery,
		idGenerator:   DefaultIDGenerator(),
		metrics:       NopESMetrics(),
		storeRetries:  defaultStoreRetries,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}

// === save ===

// WithExpectedVersion overrides the expected stream version for this save.
// Defaults to the version the aggregate was loaded at.
func WithExpectedVersion(v Version) SaveOption { return expectedVersionOption{v: v} }

// WithSkipValidation skips the aggregate's invariant validation before save.
func WithSkipValidation() SaveOption { return skipValidationOption{} }

// WithSkipSnapshot suppresses the cadence snapshot for this save.
func WithSkipSnapshot() SaveOption { return skipSnapshotOption{} }

// WithForceSnapshot writes a snapshot after this save regardless of cadence.
func WithForceSnapshot() SaveOption { return forceSnapshotOption{} }

// WithEventMetadata stamps the given metadata on every appended envelope.
func WithEventMetadata(meta Metadata) SaveOption { return metadataOption{v: meta} }

func (o expectedVersionOption) applyToSaveOptions(s *repoSaveOptions) { s.expectedVersion = &o.v }
func (skipValidationOption) applyToSaveOptions(s *repoSaveOptions)    { s.skipValidation = true }
func (skipSnapshotOption) applyToSaveOptions(s *repoSaveOptions)      { s.skipSnapshot = true }
func (forceSnapshotOption) applyToSaveOptions(s *repoSaveOptions)     { s.forceSnapshot = true }
func (o metadataOption) applyToSaveOptions(s *repoSaveOptions)        { s.meta = o.v }

func newSaveOptions(opts ...SaveOption) repoSaveOptions {
	options := repoSaveOptions{}
	for _, opt := range opts {
		opt.applyToSaveOptions(&options)
	}
	return options
}

// === load ===

// WithoutSnapshot forces a full replay for this load.
func WithoutSnapshot() LoadOption { return withoutSnapshotOption{} }

// WithMaxSnapshotAge ignores snapshots older than maxAge; the load falls
// back to full replay instead.
func WithMaxSnapshotAge(maxAge time.Duration) LoadOption { return maxSnapshotAgeOption{v: maxAge} }

func (withoutSnapshotOption) applyToLoadOptions(l *repoLoadOptions)  { l.snapshot = false }
func (o maxSnapshotAgeOption) applyToLoadOptions(l *repoLoadOptions) { l.maxSnapshotAge = o.v }

func newLoadOptions(opts ...LoadOption) repoLoadOptions {
	options := repoLoadOptions{snapshot: true}
	for _, opt := range opts {
		opt.applyToLoadOptions(&options)
	}
	return options
}
