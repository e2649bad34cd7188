package replication

import (
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/record"
)

type options struct {
	validator         record.Validator
	seedHash          string
	indexBy           string
	acceptOwnMessages bool
	watcher           Watcher
	metrics           *Metrics
	logger            log.Logger
}

type Option interface {
	apply(*options)
}

func defaultOptions() options {
	return options{
		validator: record.AcceptAll,
		indexBy:   record.DefaultIndexBy,
		watcher:   &nopWatcher{},
		logger:    log.NewNopLogger(),
	}
}

type validatorOption record.Validator

func (o validatorOption) apply(opts *options) {
	opts.validator = record.Validator(o)
}

// WithValidator configures the validator records must pass to enter the set,
// both when written locally and when merged from peers.
//
// Defaults to accepting all records.
func WithValidator(v record.Validator) Option {
	return validatorOption(v)
}

type seedHashOption string

func (o seedHashOption) apply(opts *options) {
	opts.seedHash = string(o)
}

// WithSeedHash configures the hash of a snapshot to load on startup.
func WithSeedHash(hash string) Option {
	return seedHashOption(hash)
}

type indexByOption string

func (o indexByOption) apply(opts *options) {
	opts.indexBy = string(o)
}

// WithIndexBy configures the record key field. Defaults to '_id'.
func WithIndexBy(field string) Option {
	return indexByOption(field)
}

type acceptOwnMessagesOption bool

func (o acceptOwnMessagesOption) apply(opts *options) {
	opts.acceptOwnMessages = bool(o)
}

// WithAcceptOwnMessages configures the engine to process messages published
// by its own channel handle.
//
// By default these messages are dropped. Enabling is only useful when
// multiple engines share a channel handle, such as in tests.
func WithAcceptOwnMessages(accept bool) Option {
	return acceptOwnMessagesOption(accept)
}

type watcherOption struct {
	Watcher Watcher
}

func (o watcherOption) apply(opts *options) {
	opts.watcher = o.Watcher
}

func WithWatcher(w Watcher) Option {
	return watcherOption{Watcher: w}
}

type metricsOption struct {
	Metrics *Metrics
}

func (o metricsOption) apply(opts *options) {
	opts.metrics = o.Metrics
}

// WithMetrics configures the metrics the engine updates. By default the
// engine creates its own unregistered metrics.
func WithMetrics(m *Metrics) Option {
	return metricsOption{Metrics: m}
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.Logger
}

func WithLogger(l log.Logger) Option {
	return loggerOption{Logger: l}
}
