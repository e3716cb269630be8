package descriptor

import (
	"github.com/mattcburns/fleetupdate/pkg/properties"
)

// Draft is the mutable DOM-shaped mapper that spec.md §9 calls for: a
// free-form editing surface callers can load from a Descriptor, mutate
// field-by-field, and reparse without losing data, as opposed to the
// immutable Descriptor itself.
type Draft struct {
	Timestamp          string
	BaseURI            string
	BasePath           string
	UpdateHandlerClass string
	LauncherClass      string
	Signature          string
	Properties         []properties.Property
	Files              []FileMetadata
}

// FromDescriptor produces an editable Draft from an immutable
// Descriptor.
func FromDescriptor(d Descriptor) *Draft {
	draft := &Draft{
		Timestamp:          d.Timestamp.Format(timestampLayout),
		BaseURI:            d.BaseURI,
		BasePath:           d.BasePath,
		UpdateHandlerClass: d.UpdateHandlerClass,
		LauncherClass:      d.LauncherClass,
		Signature:          d.Signature,
	}
	draft.Properties = append(draft.Properties, d.Properties...)
	draft.Files = append(draft.Files, d.Files...)
	return draft
}

// ToDescriptor re-parses the Draft's timestamp and freezes its current
// field values into a new immutable Descriptor.
func (d *Draft) ToDescriptor() (Descriptor, error) {
	out := Descriptor{
		BaseURI:            d.BaseURI,
		BasePath:           d.BasePath,
		UpdateHandlerClass: d.UpdateHandlerClass,
		LauncherClass:      d.LauncherClass,
		Signature:          d.Signature,
	}
	out.Properties = append(out.Properties, d.Properties...)
	out.Files = append(out.Files, d.Files...)

	if d.Timestamp == "" {
		return out, nil
	}
	parsed, err := Parse([]byte(`<?xml version="1.0"?><configuration timestamp="` + xmlEscape(d.Timestamp) + `"></configuration>`))
	if err != nil {
		return out, err
	}
	out.Timestamp = parsed.Timestamp
	return out, nil
}

// AddFile appends a file entry to the draft.
func (d *Draft) AddFile(f FileMetadata) { d.Files = append(d.Files, f) }

// RemoveFile drops every file whose Path matches localPath.
func (d *Draft) RemoveFile(localPath string) {
	kept := d.Files[:0]
	for _, f := range d.Files {
		if f.Path != localPath {
			kept = append(kept, f)
		}
	}
	d.Files = kept
}

// SetProperty upserts a property by (key, os), matching the "last
// write wins" semantics the rest of the engine assumes.
func (d *Draft) SetProperty(p properties.Property) {
	for i, existing := range d.Properties {
		if existing.Key == p.Key && existing.OS == p.OS {
			d.Properties[i] = p
			return
		}
	}
	d.Properties = append(d.Properties, p)
}

func xmlEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, []byte("&amp;")...)
		case '<':
			out = append(out, []byte("&lt;")...)
		case '>':
			out = append(out, []byte("&gt;")...)
		case '"':
			out = append(out, []byte("&quot;")...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
