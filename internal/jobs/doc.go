// Package jobs runs the background job pipeline behind photo ingest.
//
// A Broker stores enqueued jobs and executes them with the stage.Handler
// registered for their type. Two brokers exist: SQLiteBroker keeps jobs in
// the queue store and runs them on an ants worker pool, and AsynqBroker hands
// them to Redis through asynq for deployments that scale workers out.
//
// Pipeline wraps whichever broker is configured. Enqueue returns as soon as
// the job is durable, terminal statuses are cached so pollers do not hit the
// store for finished work, and queue depth is kept in atomic counters so
// Counts and Backlogged are constant time.
package jobs
