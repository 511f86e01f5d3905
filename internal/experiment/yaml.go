package experiment

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/headline-goat/variant-goat/internal/store"
)

// fileDefinition is the on-disk shape of one experiment.
type fileDefinition struct {
	ID       int64           `yaml:"id"`
	Name     string          `yaml:"name"`
	Status   string          `yaml:"status"`
	Variants []store.Variant `yaml:"variants"`
	Goal     struct {
		Type   string         `yaml:"type"`
		Config map[string]any `yaml:"config"`
	} `yaml:"goal"`
	Lifecycle store.LifecycleConfig `yaml:"lifecycle"`
	Consent   store.ConsentConfig   `yaml:"consent"`
}

type fileDocument struct {
	Experiments []fileDefinition `yaml:"experiments"`
}

// DecodeYAML reads a document of the form
//
//	experiments:
//	  - name: Hero headline
//	    variants: [{id: a, name: A, weight: 50}, ...]
//
// and returns validated experiments. Status defaults to draft.
func DecodeYAML(r io.Reader) ([]*store.Experiment, error) {
	var doc fileDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode experiments: %w", err)
	}

	experiments := make([]*store.Experiment, 0, len(doc.Experiments))
	for i, def := range doc.Experiments {
		e := &store.Experiment{
			ID:        def.ID,
			Name:      def.Name,
			Status:    store.Status(def.Status),
			Variants:  def.Variants,
			Goal:      store.Goal{Type: def.Goal.Type},
			Lifecycle: def.Lifecycle,
			Consent:   def.Consent,
		}
		if e.Status == "" {
			e.Status = store.StatusDraft
		}
		if len(def.Goal.Config) > 0 {
			raw, err := json.Marshal(def.Goal.Config)
			if err != nil {
				return nil, fmt.Errorf("experiment %d: failed to encode goal config: %w", i, err)
			}
			e.Goal.Config = raw
		}
		if err := Validate(e); err != nil {
			return nil, fmt.Errorf("experiment %d (%s): %w", i, def.Name, err)
		}
		experiments = append(experiments, e)
	}
	return experiments, nil
}
