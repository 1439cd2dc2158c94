package shfllock

// StealPolicy decides when a newcomer may take a free lock ahead of the
// waiters already queued.
type StealPolicy uint8

const (
	// StealAlways lets anyone take a free lock while stealing is enabled.
	StealAlways StealPolicy = iota
	// StealSameNode lets a newcomer steal only from a holder on its node.
	StealSameNode
	// StealOtherNode lets a newcomer steal only from a holder on another
	// node.
	StealOtherNode
	// StealNever sends every newcomer to the queue once it is non-empty.
	StealNever
)

func (s StealPolicy) String() string {
	switch s {
	case StealAlways:
		return "always"
	case StealSameNode:
		return "same-node"
	case StealOtherNode:
		return "other-node"
	case StealNever:
		return "never"
	}
	return "unknown"
}

// Discipline selects how an RWMutex tracks readers.
type Discipline uint8

const (
	// Centralized counts readers in the lock word. Writers are preferred.
	Centralized Discipline = iota
	// ReaderPreferred marks readers in per-CPU slots. Readers only check
	// that no writer holds or waits for the writer queue.
	ReaderPreferred
	// Neutral starts centralized and may be switched to per-CPU markers
	// with SetDistributed before first use.
	Neutral
)

func (d Discipline) String() string {
	switch d {
	case Centralized:
		return "centralized"
	case ReaderPreferred:
		return "reader-preferred"
	case Neutral:
		return "neutral"
	}
	return "unknown"
}

const (
	defaultPatience         = 2
	defaultShuffleProb      = 0x10000
	defaultSpinThreshold    = 128
	defaultReleaseThreshold = 64
	maxContShuffled         = 2
)

// Options is the per-lock configuration. The zero value is not valid; use
// the package defaults through the constructors.
type Options struct {
	patience         int
	shuffle          bool
	shuffleProb      uint32
	steal            StealPolicy
	spinThreshold    int
	park             bool
	releaseThreshold uint32
	discipline       Discipline
}

var defaultOptions = Options{
	patience:         defaultPatience,
	shuffle:          true,
	shuffleProb:      defaultShuffleProb,
	steal:            StealAlways,
	spinThreshold:    defaultSpinThreshold,
	park:             true,
	releaseThreshold: defaultReleaseThreshold,
	discipline:       Centralized,
}

// Option configures a lock.
type Option func(*Options)

func buildOptions(opts []Option) *Options {
	if len(opts) == 0 {
		return &defaultOptions
	}
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &o
}

// WithPatience sets how many times the head waiter may lose the free lock
// to stealers before it disables stealing. Default 2.
func WithPatience(n int) Option {
	if n < 0 {
		contractf("WithPatience", "negative patience %d", n)
	}
	return func(o *Options) {
		o.patience = n
	}
}

// WithShuffle turns waiter shuffling on or off. Off gives strict FIFO
// hand-off among queued waiters.
func WithShuffle(on bool) Option {
	return func(o *Options) {
		o.shuffle = on
	}
}

// WithShuffleProb sets n where a shuffle pass hands leadership on without
// scanning with probability 1/n. n must be a power of two. Default 0x10000.
func WithShuffleProb(n uint32) Option {
	if !isPow2(n) {
		contractf("WithShuffleProb", "%d is not a power of two", n)
	}
	return func(o *Options) {
		o.shuffleProb = n
	}
}

// WithStealPolicy sets the stealing policy. Default StealAlways.
func WithStealPolicy(s StealPolicy) Option {
	if s > StealNever {
		contractf("WithStealPolicy", "unknown policy %d", s)
	}
	return func(o *Options) {
		o.steal = s
	}
}

// WithSpinThreshold sets how many polls a queued waiter makes before it
// parks. Default 128.
func WithSpinThreshold(n int) Option {
	if n < 0 {
		contractf("WithSpinThreshold", "negative threshold %d", n)
	}
	return func(o *Options) {
		o.spinThreshold = n
	}
}

// WithParking enables or disables parking of queued waiters. Disabled
// waiters spin and yield forever.
func WithParking(on bool) Option {
	return func(o *Options) {
		o.park = on
	}
}

// WithReleaseThreshold sets how many consecutive local hand-offs a cohort
// lock allows before it releases the global lock. Default 64.
func WithReleaseThreshold(n uint32) Option {
	if n == 0 || n >= cohortAcquireParent {
		contractf("WithReleaseThreshold", "threshold %d out of range", n)
	}
	return func(o *Options) {
		o.releaseThreshold = n
	}
}

// WithDiscipline selects the reader tracking of an RWMutex.
func WithDiscipline(d Discipline) Option {
	if d > Neutral {
		contractf("WithDiscipline", "unknown discipline %d", d)
	}
	return func(o *Options) {
		o.discipline = d
	}
}
