// Package schema describes the structure of observation records and maps
// it onto the document model: index mappings, encoding of typed values into
// document fragments and decoding of stored documents back into values.
package schema

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidComponent = errors.New("invalid component")

type Kind string

const (
	KindRecord   Kind = "record"
	KindVector   Kind = "vector"
	KindArray    Kind = "array"
	KindQuantity Kind = "quantity"
	KindCount    Kind = "count"
	KindBoolean  Kind = "boolean"
	KindText     Kind = "text"
	KindCategory Kind = "category"
	KindTime     Kind = "time"
)

// Reference frames that make a vector a geographic point.
const (
	FrameWGS84    = "http://www.opengis.net/def/crs/EPSG/0/4326"
	FrameWGS84Alt = "http://www.opengis.net/def/crs/EPSG/0/4979"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Component is a node of a record structure. Records and vectors use
// Fields, arrays use Element.
type Component struct {
	Name           string
	Kind           Kind
	Definition     string
	Label          string
	UOM            string
	Optional       bool
	ReferenceFrame string
	Fields         []*Component
	Element        *Component
	Size           int // fixed array length, 0 when variable
}

func Record(name string, fields ...*Component) *Component {
	return &Component{Name: name, Kind: KindRecord, Fields: fields}
}

func Quantity(name, uom string) *Component {
	return &Component{Name: name, Kind: KindQuantity, UOM: uom}
}

func Count(name string) *Component {
	return &Component{Name: name, Kind: KindCount}
}

func Boolean(name string) *Component {
	return &Component{Name: name, Kind: KindBoolean}
}

func Text(name string) *Component {
	return &Component{Name: name, Kind: KindText}
}

func Category(name string) *Component {
	return &Component{Name: name, Kind: KindCategory}
}

func Time(name string) *Component {
	return &Component{Name: name, Kind: KindTime, UOM: "s"}
}

func Vector(name, frame string, coords ...*Component) *Component {
	return &Component{Name: name, Kind: KindVector, ReferenceFrame: frame, Fields: coords}
}

// GeoPoint is a WGS84 lat/lon vector, with altitude when withAlt is set.
func GeoPoint(name string, withAlt bool) *Component {
	if withAlt {
		return Vector(name, FrameWGS84Alt,
			Quantity("lat", "deg"), Quantity("lon", "deg"), Quantity("alt", "m"))
	}
	return Vector(name, FrameWGS84, Quantity("lat", "deg"), Quantity("lon", "deg"))
}

// Array of elem. size 0 means the length varies per record.
func Array(name string, size int, elem *Component) *Component {
	return &Component{Name: name, Kind: KindArray, Size: size, Element: elem}
}

func (c *Component) AsOptional() *Component {
	c.Optional = true
	return c
}

func (c *Component) Field(name string) *Component {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// IsGeo tells whether the vector is stored as a geo point.
func (c *Component) IsGeo() bool {
	if c.Kind != KindVector {
		return false
	}
	return strings.HasSuffix(c.ReferenceFrame, "/4326") || strings.HasSuffix(c.ReferenceFrame, "/4979")
}

// altitude returns the coordinate of a geo vector that is neither lat nor lon.
func (c *Component) altitude() *Component {
	for _, f := range c.Fields {
		if f.Name != "lat" && f.Name != "lon" {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the tree rooted at c.
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}

	cp := *c
	cp.Element = c.Element.Clone()
	if c.Fields != nil {
		cp.Fields = make([]*Component, len(c.Fields))
		for i, f := range c.Fields {
			cp.Fields[i] = f.Clone()
		}
	}

	return &cp
}

// Walk visits c and its descendants depth first with their dotted paths.
func (c *Component) Walk(fn func(path string, c *Component)) {
	c.walk("", fn)
}

func (c *Component) walk(prefix string, fn func(path string, c *Component)) {
	path := c.Name
	if prefix != "" {
		path = prefix + "." + c.Name
	}

	fn(path, c)

	for _, f := range c.Fields {
		f.walk(path, fn)
	}

	if c.Element != nil {
		c.Element.walk(path, fn)
	}
}

// Validate checks the whole tree.
func (c *Component) Validate() error {
	if c == nil {
		return errors.Wrap(ErrInvalidComponent, "nil component")
	}

	if !fieldName.MatchString(c.Name) {
		return errors.Wrapf(ErrInvalidComponent, "name %q is not a valid field name", c.Name)
	}

	switch c.Kind {
	case KindRecord, KindVector:
		if len(c.Fields) == 0 {
			return errors.Wrapf(ErrInvalidComponent, "%s %s has no fields", c.Kind, c.Name)
		}

		seen := make(map[string]bool, len(c.Fields))
		for _, f := range c.Fields {
			if f == nil {
				return errors.Wrapf(ErrInvalidComponent, "%s has a nil field", c.Name)
			}
			if seen[f.Name] {
				return errors.Wrapf(ErrInvalidComponent, "%s has duplicate field %s", c.Name, f.Name)
			}
			seen[f.Name] = true

			if c.Kind == KindVector && f.Kind != KindQuantity && f.Kind != KindCount {
				return errors.Wrapf(ErrInvalidComponent, "vector %s coordinate %s must be numeric", c.Name, f.Name)
			}

			if err := f.Validate(); err != nil {
				return errors.Wrapf(err, "in %s", c.Name)
			}
		}

		if c.Kind == KindRecord {
			for _, f := range c.Fields {
				if f.IsGeo() && f.altitude() != nil && seen[altName(f.Name)] {
					return errors.Wrapf(ErrInvalidComponent, "%s: field %s collides with altitude of %s", c.Name, altName(f.Name), f.Name)
				}
			}
		}

		if c.IsGeo() {
			if c.Field("lat") == nil || c.Field("lon") == nil {
				return errors.Wrapf(ErrInvalidComponent, "geo vector %s needs lat and lon", c.Name)
			}
			if len(c.Fields) > 3 {
				return errors.Wrapf(ErrInvalidComponent, "geo vector %s has more than 3 coordinates", c.Name)
			}
		}
	case KindArray:
		if c.Element == nil {
			return errors.Wrapf(ErrInvalidComponent, "array %s has no element", c.Name)
		}
		if c.Size < 0 {
			return errors.Wrapf(ErrInvalidComponent, "array %s has negative size", c.Name)
		}
		if c.Element.Kind == KindArray {
			return errors.Wrapf(ErrInvalidComponent, "array %s of arrays is not supported", c.Name)
		}
		if c.Element.IsGeo() && c.Element.altitude() != nil {
			return errors.Wrapf(ErrInvalidComponent, "array %s of geo points cannot carry altitude", c.Name)
		}
		if err := c.Element.Validate(); err != nil {
			return errors.Wrapf(err, "in %s", c.Name)
		}
	case KindQuantity, KindCount, KindBoolean, KindText, KindCategory, KindTime:
	default:
		return errors.Wrapf(ErrInvalidComponent, "%s has unknown kind %q", c.Name, c.Kind)
	}

	return nil
}

// Encoding is the wire encoding a producer declared for its records. It
// is kept with the record store and handed back to readers untouched.
type Encoding struct {
	Kind             string
	TokenSeparator   string
	BlockSeparator   string
	DecimalSeparator string
}

func JSONEncoding() Encoding {
	return Encoding{Kind: "json"}
}

func TextEncoding() Encoding {
	return Encoding{Kind: "text", TokenSeparator: ",", BlockSeparator: "\n", DecimalSeparator: "."}
}
