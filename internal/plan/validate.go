package plan

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"wfsetl/internal/wfs"

	"github.com/hashicorp/go-multierror"
)

// Validate reports every problem in p at once. The returned error is a
// *multierror.Error, or nil.
func Validate(p *Plan) error {
	var result *multierror.Error

	if len(p.BBox) != 4 {
		result = multierror.Append(result, fmt.Errorf("bbox: want 4 numbers, got %d", len(p.BBox)))
	} else {
		for i, v := range p.BBox {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				result = multierror.Append(result, fmt.Errorf("bbox[%d]: not a finite number", i))
			}
		}
		if p.BBox[0] > p.BBox[2] || p.BBox[1] > p.BBox[3] {
			result = multierror.Append(result, fmt.Errorf("bbox: min must not exceed max: %v", p.BBox))
		}
	}
	if p.Sleep != nil && *p.Sleep < 0 {
		result = multierror.Append(result, fmt.Errorf("sleep: must be >= 0, got %v", *p.Sleep))
	}

	if len(p.Groups) == 0 {
		result = multierror.Append(result, errNoGroups)
	}
	for gi, g := range p.Groups {
		where := fmt.Sprintf("group[%d]", gi)
		if err := validateServiceURL(g.URL); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s.url: %w", where, err))
		}
		if !wfs.SupportedVersion(g.Version) {
			result = multierror.Append(result, fmt.Errorf("%s.version: %q is not one of %s, %s, %s",
				where, g.Version, wfs.Version100, wfs.Version110, wfs.Version200))
		}
		if len(g.Layers) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s.layers: empty", where))
		}
		for li, l := range g.Layers {
			lw := fmt.Sprintf("%s.layers[%d]", where, li)
			if strings.TrimSpace(l.Name) == "" {
				result = multierror.Append(result, fmt.Errorf("%s.name: empty", lw))
			} else if len(l.Targets) == 0 && TableNameFor(l.Name) == "" {
				result = multierror.Append(result, fmt.Errorf("%s.name: %q derives an empty table name", lw, l.Name))
			}
			for ti, t := range l.Targets {
				tw := fmt.Sprintf("%s.target[%d]", lw, ti)
				if strings.TrimSpace(t.File) == "" && strings.TrimSpace(t.Table) == "" {
					result = multierror.Append(result, fmt.Errorf("%s: needs file or table", tw))
				}
				if t.Schema != "" && t.Table == "" {
					result = multierror.Append(result, fmt.Errorf("%s: schema without table", tw))
				}
			}
		}
	}
	return result.ErrorOrNil()
}

func validateServiceURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	return nil
}
