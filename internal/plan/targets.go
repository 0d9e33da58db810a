package plan

import (
	"net/url"
	"path/filepath"
	"strings"

	"wfsetl/internal/export"
)

// TableRef is a destination table. Table is always lower case.
type TableRef struct {
	Schema string
	Table  string
}

// LayerTarget holds the resolved output directives for one layer.
type LayerTarget struct {
	Layer  string
	Files  []string
	Tables []TableRef

	Style        bool
	StylePath    string
	Metadata     bool
	MetadataPath string
}

// Sidecars are run-wide switches that add style/metadata export to every layer.
type Sidecars struct {
	Style    bool
	Metadata bool
}

// Side-channel file suffixes.
const (
	StyleSuffix    = ".sld"
	MetadataSuffix = ".metadata.json"
)

// TableNameFor derives a table name from a layer identifier: the namespace
// prefix (up to the first ':') is dropped and the rest lower-cased.
//
//	"topp:States" -> "states"
func TableNameFor(layer string) string {
	if i := strings.IndexByte(layer, ':'); i >= 0 {
		layer = layer[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(layer))
}

// GroupSlug names a group's folder after its service host.
func GroupSlug(g ServiceGroup) string {
	u, err := url.Parse(g.URL)
	if err != nil || u.Host == "" {
		return export.Slug(g.URL)
	}
	return export.Slug(u.Host)
}

// ResolveTargets expands a layer entry into its destinations. A layer with
// no explicit target gets the derived table and, when the plan has an
// output folder, the derived file.
func ResolveTargets(p *Plan, g ServiceGroup, l LayerSpec, sc Sidecars) LayerTarget {
	lt := LayerTarget{
		Layer:    l.Name,
		Style:    l.Style || sc.Style,
		Metadata: l.Metadata || sc.Metadata,
	}

	if len(l.Targets) == 0 {
		lt.Tables = append(lt.Tables, TableRef{Schema: p.Schema, Table: TableNameFor(l.Name)})
		if p.OutputFolder != "" {
			lt.Files = append(lt.Files, export.DefaultPath(p.OutputFolder, GroupSlug(g), l.Name, p.OutputFormat))
		}
	}
	for _, t := range l.Targets {
		if f := strings.TrimSpace(t.File); f != "" {
			lt.Files = append(lt.Files, p.resolveFile(f))
		}
		if tbl := strings.TrimSpace(t.Table); tbl != "" {
			schema := strings.TrimSpace(t.Schema)
			if schema == "" {
				schema = p.Schema
			}
			lt.Tables = append(lt.Tables, TableRef{Schema: schema, Table: strings.ToLower(tbl)})
		}
	}

	base := ""
	if len(lt.Files) > 0 {
		base = lt.Files[0]
	} else {
		root := p.OutputFolder
		if root == "" {
			root = "."
		}
		base = export.DefaultPath(root, GroupSlug(g), l.Name, p.OutputFormat)
	}
	if lt.Style {
		lt.StylePath = export.SidecarPath(base, StyleSuffix)
	}
	if lt.Metadata {
		lt.MetadataPath = export.SidecarPath(base, MetadataSuffix)
	}
	return lt
}

func (p *Plan) resolveFile(f string) string {
	if p.OutputFolder == "" || export.IsRemote(f) || filepath.IsAbs(f) {
		return f
	}
	if export.IsRemote(p.OutputFolder) {
		return strings.TrimRight(p.OutputFolder, "/") + "/" + strings.TrimLeft(filepath.ToSlash(f), "/")
	}
	return filepath.Join(p.OutputFolder, f)
}
