package statement

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrNoMatch is returned by Match when no registered template's signature
// equals the requested key set. It is an expected outcome, not a fault.
var ErrNoMatch = errors.New("no statement matches parameter set")

// Registry holds every registered statement template for the service and
// resolves incoming parameter key sets to the unique matching template.
type Registry struct {
	log       logrus.FieldLogger
	templates []*Template
	bySig     map[string]*Template
}

// NewRegistry validates and indexes a set of templates. Two templates with
// an identical signature are a configuration error.
func NewRegistry(log logrus.FieldLogger, templates []*Template) (*Registry, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("at least one statement must be configured")
	}

	bySig := make(map[string]*Template, len(templates))

	for _, tpl := range templates {
		if existing, ok := bySig[tpl.Signature().Key()]; ok {
			return nil, fmt.Errorf(
				"statements %q and %q share signature %s",
				existing.Name(), tpl.Name(), tpl.Signature(),
			)
		}

		bySig[tpl.Signature().Key()] = tpl
	}

	r := &Registry{
		log:       log.WithField("component", "statement_registry"),
		templates: templates,
		bySig:     bySig,
	}

	for _, tpl := range templates {
		r.log.WithFields(logrus.Fields{
			"statement": tpl.Name(),
			"signature": tpl.Signature().String(),
			"policy":    tpl.Policy().String(),
		}).Info("Registered statement")
	}

	return r, nil
}

// Match resolves a parameter key set to the template whose signature equals
// it exactly. An empty or nil key set matches the template registered with
// the empty signature, if any.
func (r *Registry) Match(keys []string) (*Template, error) {
	sig := NewSignature(keys)

	tpl, ok := r.bySig[sig.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, sig)
	}

	return tpl, nil
}

// MatchParams resolves the key set of a parameter value map.
func (r *Registry) MatchParams(params map[string]string) (*Template, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}

	return r.Match(keys)
}

// Templates returns all registered templates.
func (r *Registry) Templates() []*Template {
	out := make([]*Template, len(r.templates))
	copy(out, r.templates)

	return out
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	return len(r.templates)
}
