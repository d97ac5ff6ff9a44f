package job

import "time"

// Options configures per-job behavior at creation time: the kind-specific
// scheduling fields plus retries, priority, and tags.
type Options struct {
	// Kind selects how the job is scheduled. Defaults to immediate.
	Kind Kind

	// CronExpression is required iff Kind is cron.
	CronExpression string

	// ScheduledFor is required iff Kind is scheduled.
	ScheduledFor time.Time

	// MaxRetries is the maximum number of retry attempts before the job
	// fails terminally.
	MaxRetries int

	// MaxRuns caps how many times a cron template fires. Zero means
	// unlimited.
	MaxRuns int

	// Priority determines claim ordering. Higher values are served first.
	Priority int

	// Tags label the job for filtered queries.
	Tags []string

	// RunImmediately requests out-of-band dispatch regardless of NextRunAt.
	RunImmediately bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Kind:       KindImmediate,
		MaxRetries: 3,
		Priority:   0,
	}
}

// Option is a functional option for configuring job creation.
type Option func(*Options)

// WithCron makes the job a cron template firing on the given expression.
func WithCron(expr string) Option {
	return func(o *Options) {
		o.Kind = KindCron
		o.CronExpression = expr
	}
}

// WithScheduleAt makes the job a one-shot scheduled for the given time.
func WithScheduleAt(t time.Time) Option {
	return func(o *Options) {
		o.Kind = KindScheduled
		o.ScheduledFor = t
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithMaxRuns caps how many times a cron template fires.
func WithMaxRuns(n int) Option {
	return func(o *Options) {
		o.MaxRuns = n
	}
}

// WithPriority sets the job priority. Higher values are served first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTags labels the job with the given tags.
func WithTags(tags ...string) Option {
	return func(o *Options) {
		o.Tags = append(o.Tags, tags...)
	}
}

// WithRunImmediately requests out-of-band dispatch on the next pass.
func WithRunImmediately() Option {
	return func(o *Options) {
		o.RunImmediately = true
	}
}
