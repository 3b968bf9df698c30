package storage

import (
	"fmt"
	"sync"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/model"
)

// Constructor builds a Driver from a decrypted config blob and its
// declared capability set, spec §4.C ("a map kind → constructor").
type Constructor func(config []byte) (Driver, []Capability, error)

// Factory is the process-wide driver-kind → constructor map.
type Factory struct {
	mu           sync.RWMutex
	constructors map[model.DriverKind]Constructor
}

// NewFactory builds an empty Factory; drivers register themselves via
// Register, mirroring rclone's fs.Register pattern used by every
// backend package's init().
func NewFactory() *Factory {
	return &Factory{constructors: make(map[model.DriverKind]Constructor)}
}

// Register adds a constructor for kind. Intended to be called from a
// driver package's init().
func (f *Factory) Register(kind model.DriverKind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

// Build instantiates a driver of kind from a decrypted config blob,
// validating its declared capability set before returning it.
func (f *Factory) Build(kind model.DriverKind, config []byte) (Driver, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no driver registered for kind %s", kind)
	}
	driver, declared, err := ctor(config)
	if err != nil {
		return nil, err
	}
	if err := ValidateContract(driver, declared); err != nil {
		return nil, err
	}
	return driver, nil
}
