package export

import (
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug folds s to a filesystem-safe name: accents removed, lower case,
// runs of other characters collapsed to "_".
//
//	"Åland:Vägar 2024" -> "aland_vagar_2024"
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// ExtensionFor maps a WFS output format to a file extension.
func ExtensionFor(outputFormat string) string {
	f := strings.ToLower(outputFormat)
	switch {
	case strings.Contains(f, "json"):
		return ".geojson"
	case strings.Contains(f, "shape"):
		return ".zip"
	case strings.Contains(f, "csv"):
		return ".csv"
	case strings.Contains(f, "kml"):
		return ".kml"
	case strings.Contains(f, "gml") || strings.Contains(f, "xml"):
		return ".gml"
	default:
		return ".dat"
	}
}

// DefaultPath is the derived file target for a layer without an explicit
// one: <root>/<group>/<layer><ext>.
func DefaultPath(root, group, layer, outputFormat string) string {
	name := Slug(layer) + ExtensionFor(outputFormat)
	if IsRemote(root) {
		return strings.TrimRight(root, "/") + "/" + path.Join(Slug(group), name)
	}
	return filepath.Join(root, Slug(group), name)
}

// SidecarPath replaces the extension of p with suffix, e.g.
// "out/roads.geojson" + ".sld" -> "out/roads.sld".
func SidecarPath(p, suffix string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + suffix
}

// contentTypeFor picks a MIME type for object uploads from the extension.
func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".geojson":
		return "application/geo+json"
	case ".json":
		return "application/json"
	case ".gml", ".sld":
		return "application/xml"
	case ".kml":
		return "application/vnd.google-earth.kml+xml"
	case ".csv":
		return "text/csv"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
