package probe

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteText renders r as an aligned table followed by the DDL.
func (r Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "layer %s: %d features -> %s.%s\n", r.Layer, r.Features, r.Table.Schema, r.Table.Table)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "property\tcolumn\ttype\tpresent\tnulls\tmisfits\tunique\tratio")
	for _, p := range r.Properties {
		column, typ := p.Column, string(p.Type)
		if column == "" {
			column, typ = "-", "dropped"
		}
		unique := fmt.Sprint(p.Distinct)
		if p.Capped {
			unique += "+"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%.1f%%\n",
			p.Name, column, typ, p.Present, p.Nulls, p.Misfits, unique, p.Ratio()*100)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.DDL != "" {
		_, err := fmt.Fprintf(w, "\n%s;\n", r.DDL)
		return err
	}
	return nil
}
