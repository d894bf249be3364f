package luaunit

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Meta is the optional self-description a unit publishes in its meta table:
//
//	meta = {
//	    name = "greeter",
//	    version = "1.0.0",
//	    tags = {"demo"},
//	}
type Meta struct {
	Name        string
	Version     string
	Description string
	Author      string
	Tags        []string
}

// ParseMeta reads the meta table from a unit environment.
func ParseMeta(env *lua.LTable) (*Meta, error) {
	metaValue := env.RawGetString("meta")
	if metaValue == lua.LNil {
		return nil, fmt.Errorf("unit does not define a meta table")
	}

	tbl, ok := metaValue.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("meta must be a table")
	}

	meta := &Meta{}

	if name := tbl.RawGetString("name"); name != lua.LNil {
		meta.Name = name.String()
	} else {
		return nil, fmt.Errorf("meta must have a name")
	}

	if version := tbl.RawGetString("version"); version != lua.LNil {
		meta.Version = version.String()
	}
	if desc := tbl.RawGetString("description"); desc != lua.LNil {
		meta.Description = desc.String()
	}
	if author := tbl.RawGetString("author"); author != lua.LNil {
		meta.Author = author.String()
	}

	if tags := tbl.RawGetString("tags"); tags != lua.LNil {
		if tagsTbl, ok := tags.(*lua.LTable); ok {
			tagsTbl.ForEach(func(_, tag lua.LValue) {
				meta.Tags = append(meta.Tags, tag.String())
			})
		}
	}

	return meta, nil
}

// Map flattens m for unit listings. Empty fields are omitted.
func (m *Meta) Map() map[string]string {
	out := map[string]string{"name": m.Name}
	if m.Version != "" {
		out["version"] = m.Version
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	if m.Author != "" {
		out["author"] = m.Author
	}
	for i, tag := range m.Tags {
		if i == 0 {
			out["tags"] = tag
		} else {
			out["tags"] += "," + tag
		}
	}
	return out
}
