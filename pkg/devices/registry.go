package devices

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var ErrNoEnumerators = errors.New("no device enumerators configured")

// Registry is a read-only view over the OS device list.
type Registry struct {
	enumerators []Enumerator
	classifier  *Classifier
}

func NewRegistry(classifier *Classifier, enumerators ...Enumerator) *Registry {
	return &Registry{
		enumerators: enumerators,
		classifier:  classifier,
	}
}

type compositeKey struct {
	vendor  uint16
	product uint16
	serial  string
}

// Enumerate queries every enumerator once. A failing enumerator does not
// stop the others; its error is logged and returned joined with any other
// failures next to whatever was found. The result is never nil.
func (r *Registry) Enumerate() ([]Identity, error) {
	found := make([]Identity, 0)
	if len(r.enumerators) == 0 {
		return found, ErrNoEnumerators
	}

	seen := make(map[string]bool)
	composites := make(map[compositeKey]string)
	var errs []error

	for _, e := range r.enumerators {
		ids, err := e.Devices()
		if err != nil {
			log.Warn().Err(err).Msgf("error enumerating %s devices", e.Id())
			errs = append(errs, fmt.Errorf("%s: %w", e.Id(), err))
		}

		for _, id := range ids {
			if seen[id.SystemID] {
				continue
			}

			// the same physical device can be reported by more than one
			// enumerator, the first one listed in config wins
			if id.Serial != "" {
				key := compositeKey{id.VendorID, id.ProductID, id.Serial}
				if other, ok := composites[key]; ok {
					log.Debug().Msgf("skipping %s, same device as %s", id.SystemID, other)
					continue
				}
				composites[key] = id.SystemID
			}

			if id.Source == "" {
				id.Source = e.Id()
			}

			seen[id.SystemID] = true
			found = append(found, id)
		}
	}

	return found, errors.Join(errs...)
}

func (r *Registry) Classify(id Identity) bool {
	return r.classifier.Classify(id)
}

// Supported enumerates and keeps only the devices classified as scanners.
func (r *Registry) Supported() ([]Identity, error) {
	ids, err := r.Enumerate()

	supported := make([]Identity, 0)
	for _, id := range ids {
		if r.Classify(id) {
			supported = append(supported, id)
		}
	}

	return supported, err
}

// Lookup finds an attached device by SystemID.
func (r *Registry) Lookup(systemID string) (Identity, bool) {
	ids, _ := r.Enumerate()
	for _, id := range ids {
		if id.SystemID == systemID {
			return id, true
		}
	}
	return Identity{}, false
}
