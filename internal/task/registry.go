package task

import "fmt"

// Registry is the name→handler map of spec §4.G.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds h under h.TaskType(), overwriting any prior handler
// registered for the same type.
func (r *Registry) Register(h Handler) {
	r.handlers[h.TaskType()] = h
}

// Get looks up the handler for taskType.
func (r *Registry) Get(taskType string) (Handler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

var errUnknownTaskType = fmt.Errorf("task: no handler registered for this task type")
