package taskvisor

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lancer-kit/taskvisor/task"
)

// TaskExistRule is a validation rule that checks task locators against a catalog.
type TaskExistRule struct {
	message   string
	Catalog   *task.Catalog
	Bootstrap string
}

// Validate checks that the task can be resolved. Accepts a string or []string.
func (r *TaskExistRule) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil
	}

	var files []string
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		files = []string{v}
	case []string:
		files = v
	default:
		return errors.New("can't convert task list to []string")
	}

	for _, file := range files {
		if r.Catalog == nil || !r.Catalog.Has(task.ResolvePath(r.Bootstrap, file)) {
			if r.message != "" {
				return errors.New(r.message)
			}
			return errors.New("unknown task " + file)
		}
	}
	return nil
}

// Error sets the error message for the rule.
func (r *TaskExistRule) Error(message string) *TaskExistRule {
	return &TaskExistRule{
		message:   message,
		Catalog:   r.Catalog,
		Bootstrap: r.Bootstrap,
	}
}

// LogrusEventHandler returns default `EventHandler` that can be used for `WithEventHandler(...)`.
func LogrusEventHandler(entry *logrus.Entry) EventHandler {
	return func(event Event) {
		var level logrus.Level
		switch event.Level {
		case LvlFatal, LvlError:
			level = logrus.ErrorLevel
		case LvlInfo:
			level = logrus.InfoLevel
		default:
			level = logrus.WarnLevel
		}

		e := entry.WithFields(event.Fields)
		if event.Worker != "" {
			e = e.WithField("worker_id", event.Worker)
		}
		e.Log(level, event.Message)
	}
}
