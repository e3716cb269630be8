package descriptor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/properties"
)

// Canonical XML shapes from spec.md §4.1 / §6. A single set of
// structs serves both directions so that parse(serialize(d)) is
// byte-equivalent by construction, per the round-trip contract.
type xmlBase struct {
	URI  string `xml:"uri,attr,omitempty"`
	Path string `xml:"path,attr,omitempty"`
}

type xmlProvider struct {
	UpdateHandler string `xml:"updateHandler,attr,omitempty"`
	Launcher      string `xml:"launcher,attr,omitempty"`
}

type xmlProperty struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
	OS    string `xml:"os,attr,omitempty"`
}

type xmlProperties struct {
	Items []xmlProperty `xml:"property"`
}

type xmlStringList struct {
	Entries []string `xml:"entry"`
}

type xmlFile struct {
	URI                 string         `xml:"uri,attr,omitempty"`
	Path                string         `xml:"path,attr,omitempty"`
	Size                int64          `xml:"size,attr"`
	Checksum            string         `xml:"checksum,attr"`
	OS                  string         `xml:"os,attr,omitempty"`
	Classpath           bool           `xml:"classpath,attr,omitempty"`
	Modulepath          bool           `xml:"modulepath,attr,omitempty"`
	Comment             string         `xml:"comment,attr,omitempty"`
	IgnoreBootConflict  bool           `xml:"ignoreBootConflict,attr,omitempty"`
	Signature           string         `xml:"signature,attr,omitempty"`
	AddExports          *xmlStringList `xml:"addExports,omitempty"`
	AddOpens            *xmlStringList `xml:"addOpens,omitempty"`
	AddReads            *xmlStringList `xml:"addReads,omitempty"`
}

type xmlFiles struct {
	Items []xmlFile `xml:"file"`
}

type xmlConfiguration struct {
	XMLName    xml.Name       `xml:"configuration"`
	Timestamp  string         `xml:"timestamp,attr"`
	Signature  string         `xml:"signature,attr,omitempty"`
	Base       *xmlBase       `xml:"base"`
	Provider   *xmlProvider   `xml:"provider"`
	Properties *xmlProperties `xml:"properties"`
	Files      *xmlFiles      `xml:"files"`
}

const timestampLayout = time.RFC3339Nano

func toXML(d Descriptor) *xmlConfiguration {
	out := &xmlConfiguration{
		Timestamp: d.Timestamp.UTC().Format(timestampLayout),
		Signature: d.Signature,
	}
	if d.BaseURI != "" || d.BasePath != "" {
		out.Base = &xmlBase{URI: d.BaseURI, Path: d.BasePath}
	}
	if d.UpdateHandlerClass != "" || d.LauncherClass != "" {
		out.Provider = &xmlProvider{UpdateHandler: d.UpdateHandlerClass, Launcher: d.LauncherClass}
	}
	if len(d.Properties) > 0 {
		items := make([]xmlProperty, len(d.Properties))
		for i, p := range d.Properties {
			items[i] = xmlProperty{Key: p.Key, Value: p.Value, OS: string(p.OS)}
		}
		out.Properties = &xmlProperties{Items: items}
	}
	if len(d.Files) > 0 {
		items := make([]xmlFile, len(d.Files))
		for i, f := range d.Files {
			items[i] = xmlFile{
				URI:                f.URI,
				Path:               f.Path,
				Size:               f.Size,
				Checksum:           strconv.FormatUint(uint64(f.Checksum), 16),
				OS:                 string(f.OS),
				Classpath:          f.Classpath,
				Modulepath:         f.Modulepath,
				Comment:            f.Comment,
				IgnoreBootConflict: f.IgnoreBootConflict,
				Signature:          f.Signature,
				AddExports:         stringListOrNil(f.AddExports),
				AddOpens:           stringListOrNil(f.AddOpens),
				AddReads:           stringListOrNil(f.AddReads),
			}
		}
		out.Files = &xmlFiles{Items: items}
	}
	return out
}

func stringListOrNil(items []string) *xmlStringList {
	if len(items) == 0 {
		return nil
	}
	return &xmlStringList{Entries: items}
}

func fromXML(x *xmlConfiguration) (Descriptor, error) {
	var d Descriptor
	if x.Timestamp != "" {
		t, err := time.Parse(timestampLayout, x.Timestamp)
		if err != nil {
			return d, ferrors.New("descriptor.Parse", ferrors.DescriptorInvalid,
				fmt.Errorf("invalid timestamp %q: %w", x.Timestamp, err))
		}
		d.Timestamp = t
	}
	d.Signature = x.Signature
	if x.Base != nil {
		d.BaseURI = x.Base.URI
		d.BasePath = x.Base.Path
	}
	if x.Provider != nil {
		d.UpdateHandlerClass = x.Provider.UpdateHandler
		d.LauncherClass = x.Provider.Launcher
	}
	if x.Properties != nil {
		for _, p := range x.Properties.Items {
			prop := properties.Property{Key: p.Key, Value: p.Value, OS: properties.OS(p.OS)}
			if err := prop.Validate(); err != nil {
				return d, err
			}
			d.Properties = append(d.Properties, prop)
		}
	}
	if x.Files != nil {
		for _, f := range x.Files.Items {
			checksum, err := strconv.ParseUint(f.Checksum, 16, 32)
			if err != nil {
				return d, ferrors.New("descriptor.Parse", ferrors.DescriptorInvalid,
					fmt.Errorf("invalid checksum %q for %q: %w", f.Checksum, f.Path, err))
			}
			d.Files = append(d.Files, FileMetadata{
				URI:                f.URI,
				Path:               f.Path,
				OS:                 OS(f.OS),
				Size:               f.Size,
				Checksum:           uint32(checksum),
				Classpath:          f.Classpath,
				Modulepath:         f.Modulepath,
				IgnoreBootConflict: f.IgnoreBootConflict,
				Signature:          f.Signature,
				AddExports:         stringListEntries(f.AddExports),
				AddOpens:           stringListEntries(f.AddOpens),
				AddReads:           stringListEntries(f.AddReads),
				Comment:            f.Comment,
			})
		}
	}
	return d, nil
}

func stringListEntries(l *xmlStringList) []string {
	if l == nil {
		return nil
	}
	return l.Entries
}

// Serialize renders d as the canonical XML document described in
// spec.md §6, with a leading UTF-8 XML declaration.
func Serialize(d Descriptor) ([]byte, error) {
	body, err := xml.MarshalIndent(toXML(d), "", "  ")
	if err != nil {
		return nil, ferrors.New("descriptor.Serialize", ferrors.DescriptorInvalid, err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse decodes the canonical XML document produced by Serialize back
// into a Descriptor. No placeholder resolution happens here -- see
// pkg/properties for that step.
func Parse(data []byte) (Descriptor, error) {
	var x xmlConfiguration
	if err := xml.Unmarshal(data, &x); err != nil {
		return Descriptor{}, ferrors.New("descriptor.Parse", ferrors.DescriptorInvalid, err)
	}
	return fromXML(&x)
}

// SerializedChildren renders only the inner markup of the root
// <configuration> element (base, provider, properties, files),
// excluding the timestamp and signature attributes, exactly the bytes
// a root-level signature is computed and verified over (spec.md §4.1,
// §6).
func SerializedChildren(d Descriptor) ([]byte, error) {
	unsigned := d
	unsigned.Signature = ""
	full, err := xml.MarshalIndent(toXML(unsigned), "", "  ")
	if err != nil {
		return nil, ferrors.New("descriptor.SerializedChildren", ferrors.DescriptorInvalid, err)
	}
	s := string(full)
	open := strings.Index(s, ">")
	closeTag := strings.LastIndex(s, "</configuration>")
	if open < 0 || closeTag < 0 || closeTag <= open {
		return nil, ferrors.New("descriptor.SerializedChildren", ferrors.DescriptorInvalid,
			fmt.Errorf("unexpected serialized shape"))
	}
	inner := strings.TrimSpace(s[open+1 : closeTag])
	return []byte(inner), nil
}
