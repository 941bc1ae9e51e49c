package presets

import (
	"time"

	"github.com/lancer-kit/taskvisor/task"
)

// Job is an interval task that performs an `action` callback with a given period.
// A non-nil result is reported as an update; an error ends the task.
type Job struct {
	period time.Duration
	action func(params interface{}) (interface{}, error)
}

// NewJob create new job with given `period`.
func NewJob(period time.Duration, action func(params interface{}) (interface{}, error)) *Job {
	return &Job{
		period: period,
		action: action,
	}
}

// IntervalDelay is a method to satisfy `task.IntervalTask` interface.
func (j *Job) IntervalDelay() time.Duration { return j.period }

// Run executes the `action` callback once; the runtime repeats it every period.
func (j *Job) Run(params interface{}, r task.Reporter) {
	result, err := j.action(params)
	if err != nil {
		r.Error(err.Error(), true)
		return
	}
	if result != nil {
		r.Update(result)
	}
}

// JobFactory returns a factory building a new Job per worker.
func JobFactory(period time.Duration, action func(params interface{}) (interface{}, error)) task.Factory {
	return func(string) task.Task { return NewJob(period, action) }
}

// Chain is a timeout task: each round calls `step`, reports its payload and,
// while `more` is true, asks for another round after the delay.
type Chain struct {
	delay time.Duration
	step  func(params interface{}) (payload interface{}, more bool, err error)
}

// NewChain creates a new Chain.
func NewChain(delay time.Duration, step func(params interface{}) (interface{}, bool, error)) *Chain {
	return &Chain{delay: delay, step: step}
}

// TimeoutDelay is a method to satisfy `task.TimeoutTask` interface.
func (c *Chain) TimeoutDelay() time.Duration { return c.delay }

// Run executes one round.
func (c *Chain) Run(params interface{}, r task.Reporter) {
	payload, more, err := c.step(params)
	if err != nil {
		r.Error(err.Error(), true)
		return
	}
	if !more {
		r.End(payload)
		return
	}
	r.Update(payload)
	r.Next()
}
