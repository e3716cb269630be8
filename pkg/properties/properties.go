// Package properties implements the placeholder-expansion engine that
// drives ${name} substitution over OS-scoped and system-inherited
// key/value pairs, plus its reverse ("imply") transformation. See
// spec.md §4.2 and §3 (Property, PropertyManager).
package properties

import (
	"fmt"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

// OS scopes a Property to one operating system. The zero value Any
// means the property applies regardless of OS.
type OS string

const (
	Any     OS = ""
	Windows OS = "windows"
	Mac     OS = "mac"
	Linux   OS = "linux"
	Other   OS = "other"
)

// Property is a single (key, value, os?) triple. Keys must not
// contain '$', '{' or '}'.
type Property struct {
	Key   string
	Value string
	OS    OS
}

// Validate checks the ForbiddenCharacter invariant on the key.
func (p Property) Validate() error {
	for _, r := range p.Key {
		if r == '$' || r == '{' || r == '}' {
			return ferrors.New("property.Validate", ferrors.ForbiddenCharacter,
				fmt.Errorf("property key %q contains a forbidden character %q", p.Key, r))
		}
	}
	return nil
}
