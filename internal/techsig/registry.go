// Package techsig holds the technology signature table used to fingerprint
// homepages. The table is data: an embedded YAML default that can be replaced
// by a file at startup.
package techsig

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategoryMarketing marks signatures whose presence implies the site runs ads.
const CategoryMarketing = "Marketing"

const (
	techWordPress     = "WordPress"
	wooCommerceMarker = "woocommerce"
)

// ecommercePlatforms are technologies that identify a storefront.
var ecommercePlatforms = map[string]struct{}{
	"Shopify":     {},
	"PrestaShop":  {},
	"Magento":     {},
	"WooCommerce": {},
}

//go:embed signatures.yaml
var defaultSignatures []byte

// Signature is one technology and the substrings that reveal it.
type Signature struct {
	Category string
	Name     string
	Markers  []string
}

// Detection is the outcome of scanning one document.
type Detection struct {
	Technologies []string
	IsEcommerce  bool
	HasAds       bool
}

// Registry is an ordered, read-only list of signatures. It is safe for concurrent use.
type Registry struct {
	signatures []Signature
}

type categoryDoc struct {
	Category     string          `yaml:"category"`
	Technologies []technologyDoc `yaml:"technologies"`
}

type technologyDoc struct {
	Name    string   `yaml:"name"`
	Markers []string `yaml:"markers"`
}

// Default returns the registry built from the embedded signature table.
func Default() *Registry {
	reg, err := Parse(strings.NewReader(string(defaultSignatures)))
	if err != nil {
		panic(fmt.Sprintf("embedded signatures are invalid: %v", err))
	}
	return reg
}

// LoadFile reads a signature table from path. An empty path yields the default table.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signatures: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	return Parse(f)
}

// Parse decodes a YAML signature table.
func Parse(r io.Reader) (*Registry, error) {
	var docs []categoryDoc
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	reg := &Registry{}
	for _, doc := range docs {
		if doc.Category == "" {
			return nil, errors.New("signature category is required")
		}
		for _, tech := range doc.Technologies {
			if tech.Name == "" {
				return nil, fmt.Errorf("technology without name in category %q", doc.Category)
			}
			markers := make([]string, 0, len(tech.Markers))
			for _, m := range tech.Markers {
				if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
					markers = append(markers, m)
				}
			}
			if len(markers) == 0 {
				return nil, fmt.Errorf("technology %q has no markers", tech.Name)
			}
			reg.signatures = append(reg.signatures, Signature{
				Category: doc.Category,
				Name:     tech.Name,
				Markers:  markers,
			})
		}
	}
	return reg, nil
}

// Len returns the number of signatures.
func (r *Registry) Len() int {
	return len(r.signatures)
}

// Detect scans lowerHTML once per signature. The input must already be lowercased.
func (r *Registry) Detect(lowerHTML string) Detection {
	d := Detection{Technologies: []string{}}
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		d.Technologies = append(d.Technologies, name)
	}

	for _, sig := range r.signatures {
		if !sig.matches(lowerHTML) {
			continue
		}
		add(sig.Name)
		if sig.Category == CategoryMarketing {
			d.HasAds = true
		}
		if _, ok := ecommercePlatforms[sig.Name]; ok {
			d.IsEcommerce = true
		}
	}

	// WooCommerce only runs on WordPress, so its marker implies both.
	if strings.Contains(lowerHTML, wooCommerceMarker) {
		add(techWordPress)
		d.IsEcommerce = true
	}
	return d
}

func (s Signature) matches(lowerHTML string) bool {
	for _, marker := range s.Markers {
		if strings.Contains(lowerHTML, marker) {
			return true
		}
	}
	return false
}
