package presets

import "github.com/lancer-kit/taskvisor/task"

// TaskFunc is a type of task that consist from one function.
// Allow to use the function as task.
type TaskFunc func(params interface{}, r task.Reporter)

// Run executes function as task.
func (f TaskFunc) Run(params interface{}, r task.Reporter) { f(params, r) }

// Factory returns a factory that hands out f for every worker.
func (f TaskFunc) Factory() task.Factory {
	return func(string) task.Task { return f }
}
