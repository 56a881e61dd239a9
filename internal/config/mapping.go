package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"aggload/internal/naming"
	"aggload/internal/schema"
)

// mappingFile is the YAML shape of an aggregate mapping file.
type mappingFile struct {
	Aggregates []entitySpec `mapstructure:"aggregates"`
}

type entitySpec struct {
	Name       string         `mapstructure:"name"`
	Table      string         `mapstructure:"table"`
	IDProperty string         `mapstructure:"id_property"`
	IDColumn   string         `mapstructure:"id_column"`
	Required   []string       `mapstructure:"required"`
	Properties []propertySpec `mapstructure:"properties"`
}

type propertySpec struct {
	Name          string      `mapstructure:"name"`
	Column        string      `mapstructure:"column"`
	Kind          string      `mapstructure:"kind"` // "", one, list, set, map
	Embedded      bool        `mapstructure:"embedded"`
	Prefix        string      `mapstructure:"prefix"`
	KeyColumn     string      `mapstructure:"key_column"`
	BackRefColumn string      `mapstructure:"back_ref_column"`
	Target        *entitySpec `mapstructure:"target"`
}

// LoadMapping reads an aggregate mapping file and resolves it into
// validated entity graphs, with naming defaults applied.
func LoadMapping(path string, namer *naming.Namer) ([]*schema.Entity, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read mapping file %q: %w", path, err)
	}

	var file mappingFile
	if err := v.UnmarshalExact(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping file %q: %w", path, err)
	}
	if len(file.Aggregates) == 0 {
		return nil, fmt.Errorf("mapping file %q defines no aggregates", path)
	}

	entities := make([]*schema.Entity, 0, len(file.Aggregates))
	for i := range file.Aggregates {
		entity, err := file.Aggregates[i].toEntity()
		if err != nil {
			return nil, fmt.Errorf("mapping file %q: %w", path, err)
		}
		entity.ApplyDefaults(namer)
		if err := entity.Validate(); err != nil {
			return nil, fmt.Errorf("mapping file %q: %w", path, err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// ResolveAggregate picks the configured aggregate from the mapping file,
// defaulting to the first one.
func (m *MappingConfig) ResolveAggregate(namer *naming.Namer) (*schema.Entity, error) {
	entities, err := LoadMapping(m.File, namer)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Aggregate) == "" {
		return entities[0], nil
	}
	for _, e := range entities {
		if e.Name == m.Aggregate {
			return e, nil
		}
	}
	return nil, fmt.Errorf("mapping file %q defines no aggregate named %q", m.File, m.Aggregate)
}

func (s *entitySpec) toEntity() (*schema.Entity, error) {
	if strings.TrimSpace(s.Name) == "" {
		return nil, fmt.Errorf("entity with no name")
	}
	e := &schema.Entity{
		Name:       s.Name,
		Table:      s.Table,
		IDProperty: s.IDProperty,
		IDColumn:   s.IDColumn,
		Required:   s.Required,
	}
	for i := range s.Properties {
		p := &s.Properties[i]
		kind, err := parseCollectionKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("entity %s, property %s: %w", s.Name, p.Name, err)
		}
		prop := schema.Property{
			Name:          p.Name,
			Column:        p.Column,
			Kind:          kind,
			Embedded:      p.Embedded,
			Prefix:        p.Prefix,
			KeyColumn:     p.KeyColumn,
			BackRefColumn: p.BackRefColumn,
		}
		if p.Target != nil {
			target, err := p.Target.toEntity()
			if err != nil {
				return nil, err
			}
			prop.Target = target
		} else if kind != schema.KindNone || p.Embedded {
			return nil, fmt.Errorf("entity %s, property %s: kind/embedded set but no target entity", s.Name, p.Name)
		}
		e.Properties = append(e.Properties, prop)
	}
	return e, nil
}

func parseCollectionKind(raw string) (schema.CollectionKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "one":
		return schema.KindNone, nil
	case "list":
		return schema.KindList, nil
	case "set":
		return schema.KindSet, nil
	case "map":
		return schema.KindMap, nil
	default:
		return schema.KindNone, fmt.Errorf("unknown collection kind %q (use one, list, set, or map)", raw)
	}
}
