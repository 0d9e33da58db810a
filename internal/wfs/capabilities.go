package wfs

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// LayerMetadata is what the capabilities document advertises for one feature type.
type LayerMetadata struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`
}

// Capabilities is the parsed subset of a GetCapabilities response.
type Capabilities struct {
	Version string
	Title   string
	Layers  []LayerMetadata
}

// Element names are matched on their local part, so the same struct reads
// WFS 1.0 (default namespace) and 1.1/2.0 (ows: prefixed) documents.
type capabilitiesDoc struct {
	XMLName xml.Name
	Version string `xml:"version,attr"`

	Service struct {
		Title string `xml:"Title"`
	} `xml:"Service"`
	Identification struct {
		Title string `xml:"Title"`
	} `xml:"ServiceIdentification"`

	FeatureTypes []featureTypeDoc `xml:"FeatureTypeList>FeatureType"`
}

type featureTypeDoc struct {
	Name     string        `xml:"Name"`
	Title    string        `xml:"Title"`
	Abstract string        `xml:"Abstract"`
	Keywords []keywordsDoc `xml:"Keywords"`
}

// keywordsDoc is either a comma separated text (1.0) or a list of Keyword
// children (OWS).
type keywordsDoc struct {
	Text     string   `xml:",chardata"`
	Keywords []string `xml:"Keyword"`
}

var errNotCapabilities = errors.New("response is not a WFS capabilities document")

// ParseCapabilities decodes a GetCapabilities response body.
func ParseCapabilities(body []byte) (*Capabilities, error) {
	if se, ok := detectException(body); ok {
		return nil, se
	}
	root := rootElement(body)
	if !strings.HasSuffix(root, "Capabilities") {
		return nil, errNotCapabilities
	}

	var doc capabilitiesDoc
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}

	c := &Capabilities{
		Version: doc.Version,
		Title:   collapseSpace(doc.Identification.Title),
	}
	if c.Title == "" {
		c.Title = collapseSpace(doc.Service.Title)
	}
	for _, ft := range doc.FeatureTypes {
		name := strings.TrimSpace(ft.Name)
		if name == "" {
			continue
		}
		c.Layers = append(c.Layers, LayerMetadata{
			Name:     name,
			Title:    collapseSpace(ft.Title),
			Abstract: strings.TrimSpace(ft.Abstract),
			Keywords: flattenKeywords(ft.Keywords),
		})
	}
	return c, nil
}

func flattenKeywords(groups []keywordsDoc) []string {
	var out []string
	for _, g := range groups {
		if len(g.Keywords) > 0 {
			for _, k := range g.Keywords {
				if k = strings.TrimSpace(k); k != "" {
					out = append(out, k)
				}
			}
			continue
		}
		for _, k := range strings.Split(g.Text, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

// LayerNames returns the advertised feature type names in document order.
func (c *Capabilities) LayerNames() []string {
	names := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		names = append(names, l.Name)
	}
	return names
}
