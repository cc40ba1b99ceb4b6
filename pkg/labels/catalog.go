// Package labels maps recognizer labels onto display text and applies
// per-sign confidence floors.
package labels

import (
	"fmt"
	"strings"

	"github.com/signbridge/signbridge/pkg/recognition"
)

// Catalog is a YAML-mappable sign vocabulary.
type Catalog struct {
	Name          string          `yaml:"name"           json:"name"`
	Language      string          `yaml:"language"       json:"language"`
	MinConfidence float64         `yaml:"min_confidence" json:"min_confidence"`
	Strict        bool            `yaml:"strict"         json:"strict"`
	Signs         map[string]Sign `yaml:"signs"          json:"signs"`

	index map[string]string
}

// Sign describes one recognizable sign.
type Sign struct {
	Display       string   `yaml:"display"        json:"display"`
	MinConfidence float64  `yaml:"min_confidence" json:"min_confidence,omitempty"`
	Aliases       []string `yaml:"aliases"        json:"aliases,omitempty"`
}

func key(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// Validate normalizes confidence floors and builds the alias index.
func (c *Catalog) Validate() error {
	c.MinConfidence = recognition.NormalizeConfidence(c.MinConfidence)
	c.index = make(map[string]string, len(c.Signs))

	normalized := make(map[string]Sign, len(c.Signs))
	for label, sign := range c.Signs {
		k := key(label)
		if k == "" {
			return fmt.Errorf("sign with empty label")
		}
		if _, dup := normalized[k]; dup {
			return fmt.Errorf("duplicate sign %q", label)
		}
		sign.MinConfidence = recognition.NormalizeConfidence(sign.MinConfidence)
		if sign.Display == "" {
			sign.Display = label
		}
		normalized[k] = sign
		c.index[k] = k
	}

	for k, sign := range normalized {
		for _, alias := range sign.Aliases {
			a := key(alias)
			if owner, taken := c.index[a]; taken && owner != k {
				return fmt.Errorf("alias %q of %q already maps to %q", alias, k, owner)
			}
			c.index[a] = k
		}
	}
	c.Signs = normalized
	return nil
}

// Resolve returns the display text for label and whether a prediction at
// confidence should be accepted.
func (c *Catalog) Resolve(label string, confidence float64) (string, bool) {
	if c == nil {
		return label, true
	}

	k, known := c.index[key(label)]
	if !known {
		if c.Strict {
			return "", false
		}
		return label, confidence >= c.MinConfidence
	}

	sign := c.Signs[k]
	floor := sign.MinConfidence
	if floor == 0 {
		floor = c.MinConfidence
	}
	return sign.Display, confidence >= floor
}
