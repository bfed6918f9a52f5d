// Package ratings describes the rating values found in the FHRS feed.
package ratings

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed ratings.yaml
var catalogYAML []byte

// Rating is one known rating value with its display labels.
type Rating struct {
	Value  string `yaml:"value" json:"value"`
	Short  string `yaml:"short" json:"short"`
	Long   string `yaml:"long" json:"long"`
	Colour string `yaml:"colour" json:"colour"`
}

// Unknown is returned by Lookup for values not in the catalog.
var Unknown = Rating{Short: "N/A", Long: "N/A", Colour: "gray-500"}

// Catalog is an ordered set of ratings indexed by value.
type Catalog struct {
	list  []Rating
	index map[string]Rating
}

// Parse builds a Catalog from YAML. Values must be unique and non-empty.
func Parse(data []byte) (*Catalog, error) {
	var list []Rating
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, eris.Wrap(err, "ratings: parse catalog")
	}
	c := &Catalog{list: list, index: make(map[string]Rating, len(list))}
	for i, r := range list {
		if r.Value == "" {
			return nil, eris.Errorf("ratings: entry %d has no value", i)
		}
		if _, dup := c.index[r.Value]; dup {
			return nil, eris.Errorf("ratings: duplicate value %q", r.Value)
		}
		c.index[r.Value] = r
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// All returns the ratings in display order.
func (c *Catalog) All() []Rating {
	out := make([]Rating, len(c.list))
	copy(out, c.list)
	return out
}

// Lookup returns the rating for a normalized value, or Unknown.
func (c *Catalog) Lookup(value string) (Rating, bool) {
	r, ok := c.index[value]
	if !ok {
		return Unknown, false
	}
	return r, true
}

// Key is a parsed FHRS rating key such as "fhrs_5_en-gb".
type Key struct {
	Scheme  string `json:"scheme"`
	Rating  string `json:"rating"`
	Culture string `json:"culture,omitempty"`
}

// ParseKey splits a rating key into scheme, rating and culture. The culture
// suffix is only recognized for en-gb and cy-gb; FHIS keys usually have none.
func ParseKey(key string) (Key, bool) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(key)), "_")
	if len(parts) < 2 || parts[0] == "" {
		return Key{}, false
	}

	k := Key{Scheme: parts[0]}
	rest := parts[1:]
	if last := rest[len(rest)-1]; last == "en-gb" || last == "cy-gb" {
		k.Culture = last
		rest = rest[:len(rest)-1]
	}
	k.Rating = strings.Join(rest, "_")
	if k.Rating == "" {
		return Key{}, false
	}
	return k, true
}

// Image returns the badge path the FSA uses for a key, or "" for unknown
// schemes.
func (k Key) Image() string {
	switch k.Scheme {
	case "fhis":
		return "/fhis/" + k.Scheme + "_" + k.Rating + ".jpg"
	case "fhrs":
		return "/fhrs/" + k.Scheme + "_" + k.Rating + "_" + k.Culture + ".svg"
	}
	return ""
}
