// Package jobs queues indexing work and runs it on a single worker.
//
// Jobs wait in one of two queues. Content jobs (indexing, removals) run
// first; background jobs (saves, problem commits) get a turn after
// StarvationLimit consecutive content jobs. A project tree or save request
// that is already pending absorbs later identical requests.
//
// Every job reaches exactly one terminal state (completed, cancelled or
// failed) and the executor hears about it once through JobFinished.
// Cancellation is cooperative: running jobs poll Job.Cancelled between units
// of work. A panic inside a job fails that job only.
package jobs
