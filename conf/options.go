package conf

import (
	"sync"
)

// Options provides concurrency-safe access to AppConfig.
// The web UI may replace the settings while a batch is running;
// the batch keeps the copy it started with.
type Options struct {
	options AppConfig
	lock    sync.RWMutex
}

// NewOptions creates a holder filled with default settings.
func NewOptions() *Options {
	return &Options{options: *NewAppConfig()}
}

// Get returns a copy of the current settings.
func (o *Options) Get() *AppConfig {
	o.lock.RLock()
	defer o.lock.RUnlock()
	opt := o.options // clone
	return &opt
}

// Set replaces the current settings with a copy of c.
func (o *Options) Set(c *AppConfig) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.options = *c // clone
}
