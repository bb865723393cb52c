package definition

import (
	"github.com/spf13/cast"

	"github.com/warriorguo/ensemble/types"
)

const contextField = "context"

var contextKeys = map[string]bool{
	"name": true, "compute": true, "timeout": true, "metric": true,
	"sample": true, "fold_type": true, "source": true,
}

func parseContext(raw any) (types.WorkflowContext, error) {
	c := types.WorkflowContext{}

	m, err := asData(contextField, raw)
	if err != nil {
		return c, err
	}
	for key := range m {
		if !contextKeys[key] {
			return c, types.NewMalformedDefinition(contextField+"."+key, "unknown field")
		}
	}

	if c.Name, err = requiredString(m, contextField, "name"); err != nil {
		return c, err
	}

	if v, exists := m["compute"]; exists && v != nil {
		compute, err := asData(contextField+".compute", v)
		if err != nil {
			return c, err
		}
		if c.Compute.Serverless, err = optionalStrings(compute, contextField+".compute", "serverless"); err != nil {
			return c, err
		}
	}

	if v, exists := m["timeout"]; exists && v != nil {
		if c.Timeout, err = scalarString(v); err != nil {
			return c, types.NewMalformedDefinition(contextField+".timeout", "must be a string")
		}
		if _, err := types.ParseTimeout(c.Timeout); err != nil {
			return c, types.NewMalformedDefinition(contextField+".timeout", "%v", err)
		}
	}

	if v, exists := m["metric"]; exists && v != nil {
		if c.Metric, err = cast.ToStringMapStringSliceE(v); err != nil {
			return c, types.NewMalformedDefinition(contextField+".metric", "must map a problem type to metric names")
		}
	}

	if v, exists := m["sample"]; exists && v != nil {
		sample, err := asData(contextField+".sample", v)
		if err != nil {
			return c, err
		}
		if size, exists := sample["size"]; exists {
			if c.Sample.Size, err = cast.ToIntE(size); err != nil || c.Sample.Size < 0 {
				return c, types.NewMalformedDefinition(contextField+".sample.size", "must be a non-negative integer")
			}
		}
		if c.Sample.Method, err = optionalStrings(sample, contextField+".sample", "method"); err != nil {
			return c, err
		}
	}

	if c.FoldType, err = optionalStrings(m, contextField, "fold_type"); err != nil {
		return c, err
	}

	v, exists := m["source"]
	if !exists || v == nil {
		return c, types.NewMalformedDefinition(contextField+".source", "is required")
	}
	source, err := asData(contextField+".source", v)
	if err != nil {
		return c, err
	}
	sourceField := contextField + ".source"
	if c.Source.Catalog, err = requiredString(source, sourceField, "catalog"); err != nil {
		return c, err
	}
	if c.Source.Schema, err = requiredString(source, sourceField, "schema"); err != nil {
		return c, err
	}
	if c.Source.Table, err = requiredString(source, sourceField, "table"); err != nil {
		return c, err
	}
	if c.Source.Target, err = requiredString(source, sourceField, "target"); err != nil {
		return c, err
	}
	return c, nil
}

// optionalStrings accepts a list of scalars or a single scalar.
func optionalStrings(m types.Data, parent, key string) ([]string, error) {
	v, exists := m[key]
	if !exists || v == nil {
		return nil, nil
	}
	if s, err := scalarString(v); err == nil {
		return []string{s}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, types.NewMalformedDefinition(joinField(parent, key), "must be a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, err := scalarString(item)
		if err != nil {
			return nil, types.NewMalformedDefinition(joinField(parent, key), "must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
