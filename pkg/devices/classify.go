package devices

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"golang.org/x/exp/slices"
)

// Classifier decides whether an attached device is a supported fingerprint
// scanner. It matches an allow-list of vendor IDs, device class codes and
// case-insensitive name patterns; any single match is enough.
type Classifier struct {
	vendorIDs []uint16
	classes   []uint8
	patterns  []glob.Glob
}

func NewClassifier(vendorIDs []uint16, classes []uint8, patterns []string) (*Classifier, error) {
	c := &Classifier{
		vendorIDs: vendorIDs,
		classes:   classes,
	}

	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, g)
	}

	return c, nil
}

// NewClassifierFromConfig builds a classifier from the [devices] section.
// Invalid patterns are logged and skipped.
func NewClassifierFromConfig(cfg *config.UserConfig) *Classifier {
	c := &Classifier{
		vendorIDs: cfg.GetVendorIds(),
		classes:   cfg.GetDeviceClasses(),
	}

	for _, p := range cfg.GetNamePatterns() {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			log.Warn().Err(err).Msgf("ignoring invalid name pattern: %s", p)
			continue
		}
		c.patterns = append(c.patterns, g)
	}

	return c
}

// Classify is a pure function of the identity, evaluated on every attach.
func (c *Classifier) Classify(id Identity) bool {
	if slices.Contains(c.vendorIDs, id.VendorID) {
		return true
	}

	// class 0 means the class is declared per interface, never match it
	if id.Class != ClassPerInterface && slices.Contains(c.classes, id.Class) {
		return true
	}

	for _, name := range []string{id.Name, id.Manufacturer, id.Product, id.Path} {
		if name == "" {
			continue
		}
		lower := strings.ToLower(name)
		for _, g := range c.patterns {
			if g.Match(lower) {
				return true
			}
		}
	}

	return false
}
