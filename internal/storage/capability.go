package storage

import "fmt"

// Capability names a bundle of methods a driver may implement, spec §4.C.
type Capability string

const (
	CapReader     Capability = "READER"
	CapWriter     Capability = "WRITER"
	CapDirectLink Capability = "DIRECT_LINK"
	CapProxy      Capability = "PROXY"
	CapMultipart  Capability = "MULTIPART"
	CapAtomic     Capability = "ATOMIC"
)

// Has structurally probes driver for capability, mirroring rclone's
// fs.Features pattern of declaring optional behavior by presence of
// methods rather than by a type switch scattered through call sites.
func Has(driver Driver, cap Capability) bool {
	switch cap {
	case CapReader:
		_, ok := driver.(Reader)
		return ok
	case CapWriter:
		_, ok := driver.(Writer)
		return ok
	case CapDirectLink:
		_, ok := driver.(DirectLinker)
		return ok
	case CapProxy:
		_, ok := driver.(Proxy)
		return ok
	case CapMultipart:
		_, ok := driver.(Multipart)
		return ok
	case CapAtomic:
		_, ok := driver.(Atomic)
		return ok
	default:
		return false
	}
}

// Capabilities returns the full declared capability set of driver,
// cached by callers that construct many short-lived requests against
// the same driver instance.
func Capabilities(driver Driver) map[Capability]bool {
	all := []Capability{CapReader, CapWriter, CapDirectLink, CapProxy, CapMultipart, CapAtomic}
	out := make(map[Capability]bool, len(all))
	for _, c := range all {
		out[c] = Has(driver, c)
	}
	return out
}

// ValidateContract asserts that driver actually implements every
// method required by each of declared, refusing construction
// otherwise. This is the factory-time check of spec §4.C
// ("validateDriverContract").
func ValidateContract(driver Driver, declared []Capability) error {
	for _, cap := range declared {
		if !Has(driver, cap) {
			return fmt.Errorf("driver %s declares capability %s but does not implement it", driver.Kind(), cap)
		}
	}
	return nil
}
