package taskvisor

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	DefaultStoreID       = "taskvisor"
	DefaultCreateTimeout = 30 * time.Second
)

var storeIDRule = validation.Match(regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)).
	Error("must contain only letters, digits, '.', '_' or '-'")

// Config is the Supervisor configuration.
type Config struct {
	// StoreID names the registry namespace holding active workers.
	StoreID string `json:"store_id" yaml:"store_id"`
	// StoreDir is where `<StoreID>.json` is written by Commit.
	StoreDir string `json:"store_dir" yaml:"store_dir"`
	// Persist commits the registry on Shutdown.
	Persist bool `json:"persist" yaml:"persist"`
	// CreateTimeout bounds Requester.CreateWorker when the caller's context has no deadline.
	CreateTimeout time.Duration `json:"create_timeout" yaml:"create_timeout"`
}

// DefaultConfig returns a Config with defaults filled in.
func DefaultConfig() Config {
	return Config{
		StoreID:       DefaultStoreID,
		CreateTimeout: DefaultCreateTimeout,
	}
}

// Validate is an implementation of Validatable interface from ozzo-validation.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StoreID, validation.Required, storeIDRule),
		validation.Field(&c.CreateTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.StoreDir, validation.When(c.Persist, validation.Required)),
	)
}
