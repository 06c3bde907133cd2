package schema

// M is a JSON object in a mapping or document.
type M = map[string]interface{}

func altName(name string) string {
	return name + "_alt"
}

// Mapping returns the document store field mapping of c.
func Mapping(c *Component) M {
	switch c.Kind {
	case KindRecord:
		return M{"properties": fieldMappings(c.Fields)}
	case KindVector:
		if c.IsGeo() {
			return M{"type": "geo_point"}
		}
		return M{"properties": fieldMappings(c.Fields)}
	case KindArray:
		m := Mapping(c.Element)
		if c.Element.Kind == KindRecord {
			m["type"] = "nested"
		}
		return m
	case KindQuantity, KindTime:
		return M{"type": "double"}
	case KindCount:
		return M{"type": "long"}
	case KindBoolean:
		return M{"type": "boolean"}
	case KindText:
		return M{"type": "text"}
	case KindCategory:
		return M{"type": "keyword"}
	}

	return M{"type": "object", "enabled": false}
}

func fieldMappings(fields []*Component) M {
	props := make(M, len(fields))
	for _, f := range fields {
		props[f.Name] = Mapping(f)
		if f.IsGeo() {
			if alt := f.altitude(); alt != nil {
				props[altName(f.Name)] = Mapping(alt)
			}
		}
	}
	return props
}
