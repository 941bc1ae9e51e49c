package presets

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lancer-kit/taskvisor/task"
)

type call struct {
	kind    string
	payload interface{}
}

type recorder struct {
	calls []call
}

func (r *recorder) Update(p interface{}) { r.calls = append(r.calls, call{"update", p}) }
func (r *recorder) End(p interface{})    { r.calls = append(r.calls, call{"end", p}) }
func (r *recorder) Next()                { r.calls = append(r.calls, call{"next", nil}) }
func (r *recorder) Error(p interface{}, alsoEnd bool) {
	r.calls = append(r.calls, call{"error", p})
	if alsoEnd {
		r.End(nil)
	}
}

func TestJob(t *testing.T) {
	n := 0
	job := NewJob(time.Second, func(params interface{}) (interface{}, error) {
		n++
		switch n {
		case 1:
			return params, nil
		case 2:
			return nil, nil
		default:
			return nil, errors.New("fail")
		}
	})

	mode, delay := task.ModeOf(job)
	assert.Equal(t, task.ModeInterval, mode)
	assert.Equal(t, time.Second, delay)

	r := &recorder{}
	job.Run("p", r)
	job.Run("p", r)
	job.Run("p", r)

	assert.Equal(t, []call{
		{"update", "p"},
		{"error", "fail"},
		{"end", nil},
	}, r.calls)
}

func TestChain(t *testing.T) {
	chain := NewChain(time.Millisecond, func(params interface{}) (interface{}, bool, error) {
		v := params.(int)
		return v * 2, v < 2, nil
	})

	mode, _ := task.ModeOf(chain)
	assert.Equal(t, task.ModeTimeout, mode)

	r := &recorder{}
	chain.Run(1, r)
	chain.Run(2, r)

	assert.Equal(t, []call{
		{"update", 2},
		{"next", nil},
		{"end", 4},
	}, r.calls)
}

func TestTaskFunc(t *testing.T) {
	var got interface{}
	f := TaskFunc(func(params interface{}, r task.Reporter) {
		got = params
		r.End("done")
	})

	instance := f.Factory()("w1")
	mode, _ := task.ModeOf(instance)
	assert.Equal(t, task.ModeNormal, mode)

	r := &recorder{}
	instance.Run(42, r)
	assert.Equal(t, 42, got)
	assert.Equal(t, []call{{"end", "done"}}, r.calls)
}
