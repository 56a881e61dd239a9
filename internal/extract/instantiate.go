package extract

import (
	"fmt"

	"aggload/internal/schema"
)

// Instantiator creates entity instances in two phases: Create receives
// only the constructor-bound properties, Apply sets everything else
// afterwards. Aggregate types may mix immutable constructor-bound fields
// with mutable ones, so both phases are needed.
type Instantiator interface {
	Create(entity *schema.Entity, required map[string]any) (any, error)
	Apply(instance any, property string, value any) error
}

// MapInstantiator materializes entities as map[string]any. It is the
// default when no host-type construction is registered.
type MapInstantiator struct{}

func (MapInstantiator) Create(_ *schema.Entity, required map[string]any) (any, error) {
	instance := make(map[string]any, len(required))
	for name, value := range required {
		instance[name] = value
	}
	return instance, nil
}

func (MapInstantiator) Apply(instance any, property string, value any) error {
	m, ok := instance.(map[string]any)
	if !ok {
		return fmt.Errorf("extract: cannot set %s on %T", property, instance)
	}
	m[property] = value
	return nil
}
