package perm

import (
	"time"

	"github.com/sirupsen/logrus"
)

// AuditRecord is the structured record emitted for every authorization
// decision, spec §4.A step 7.
type AuditRecord struct {
	Decision  bool
	Reason    FailureReason
	Policy    string
	Principal string
	Method    string
	Path      string
	Status    int
	Timestamp time.Time
}

// Audit logs the outcome of an Authorize call regardless of the
// outcome, matching the teacher's pattern of emitting a structured
// logrus entry for every authorization-relevant event.
func Audit(log *logrus.Entry, p Principal, d Decision, method, path string, status int) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	rec := AuditRecord{
		Decision:  d.Allowed,
		Reason:    d.Reason,
		Policy:    d.Policy,
		Principal: string(p.Kind) + ":" + p.ID,
		Method:    method,
		Path:      path,
		Status:    status,
		Timestamp: time.Now(),
	}
	entry := log.WithFields(logrus.Fields{
		"allowed":   rec.Decision,
		"reason":    rec.Reason,
		"policy":    rec.Policy,
		"principal": rec.Principal,
		"method":    rec.Method,
		"path":      rec.Path,
		"status":    rec.Status,
	})
	if d.Allowed {
		entry.Debug("authorization granted")
	} else {
		entry.Warn("authorization denied")
	}
}
