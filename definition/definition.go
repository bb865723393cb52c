package definition

import (
	"fmt"
	"math"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/warriorguo/ensemble/types"
	"github.com/warriorguo/ensemble/utils"
)

const (
	rootKey = "obsrv"

	keyTask      = "task"
	keyID        = "id"
	keyDependsOn = "depends_on"
)

// Definition is a parsed pipeline, tasks are in definition order.
type Definition struct {
	Context types.WorkflowContext
	Tasks   []*types.TaskDefinition
}

func Parse(text []byte) (*Definition, error) {
	var root any
	if err := yaml.Unmarshal(text, &root); err != nil {
		return nil, types.NewMalformedDefinition("", "invalid yaml: %v", err)
	}
	doc, err := asData("", root)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if inner, exists := doc[rootKey]; exists && len(doc) == 1 {
		if doc, err = asData(rootKey, inner); err != nil {
			return nil, errors.Trace(err)
		}
	}

	def := &Definition{}

	rawContext, exists := doc["context"]
	if !exists {
		return nil, types.NewMalformedDefinition("context", "is required")
	}
	if def.Context, err = parseContext(rawContext); err != nil {
		return nil, errors.Trace(err)
	}

	rawJob, exists := doc["job"]
	if !exists {
		return nil, types.NewMalformedDefinition("job", "is required")
	}
	entries, ok := rawJob.([]any)
	if !ok {
		return nil, types.NewMalformedDefinition("job", "must be a list of tasks")
	}
	if len(entries) == 0 {
		return nil, types.NewMalformedDefinition("job", "must contain at least one task")
	}

	def.Tasks = make([]*types.TaskDefinition, 0, len(entries))
	for i, entry := range entries {
		task, err := parseTask(fmt.Sprintf("job[%d]", i), entry)
		if err != nil {
			return nil, errors.Trace(err)
		}
		def.Tasks = append(def.Tasks, task)
	}
	return def, nil
}

func parseTask(field string, entry any) (*types.TaskDefinition, error) {
	m, err := asData(field, entry)
	if err != nil {
		return nil, err
	}

	name, err := requiredString(m, field, keyTask)
	if err != nil {
		return nil, err
	}
	typ, known := types.ParseTaskType(name)
	if !known {
		return nil, types.NewMalformedDefinition(field+"."+keyTask, "unknown task type %q", name)
	}

	task := &types.TaskDefinition{ID: name, Type: typ, Raw: types.Data{}}
	if _, exists := m[keyID]; exists {
		if task.ID, err = requiredString(m, field, keyID); err != nil {
			return nil, err
		}
	}

	if rawDeps, exists := m[keyDependsOn]; exists && rawDeps != nil {
		if task.DependsOn, err = parseDependsOn(field+"."+keyDependsOn, rawDeps); err != nil {
			return nil, err
		}
	}

	for _, key := range utils.SortedKeys(m) {
		if key == keyTask || key == keyID || key == keyDependsOn {
			continue
		}
		if err := checkSerializable(field+"."+key, m[key]); err != nil {
			return nil, err
		}
		task.Raw[key] = m[key]
	}

	if task.Config, err = decodeTaskConfig(field, typ, task.Raw); err != nil {
		return nil, err
	}
	return task, nil
}

func parseDependsOn(field string, raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, types.NewMalformedDefinition(field, "must be a list of {task: <id>}")
	}
	deps := make([]string, 0, len(list))
	for i, item := range list {
		itemField := fmt.Sprintf("%s[%d]", field, i)
		m, err := asData(itemField, item)
		if err != nil {
			return nil, err
		}
		dep, err := requiredString(m, itemField, keyTask)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return utils.UniqueSlice(deps), nil
}

// checkSerializable rejects values the raw config cannot carry to the
// backend as JSON: mappings with non-string keys and non-finite numbers.
func checkSerializable(field string, v any) error {
	switch value := v.(type) {
	case map[string]any:
		for _, key := range utils.SortedKeys(value) {
			if err := checkSerializable(field+"."+key, value[key]); err != nil {
				return err
			}
		}
	case map[any]any:
		return types.NewMalformedDefinition(field, "mapping keys must be strings")
	case []any:
		for i, item := range value {
			if err := checkSerializable(fmt.Sprintf("%s[%d]", field, i), item); err != nil {
				return err
			}
		}
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return types.NewMalformedDefinition(field, "must be a finite number")
		}
	}
	return nil
}

func asData(field string, v any) (types.Data, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if field == "" {
			return nil, types.NewMalformedDefinition(field, "document must be a mapping")
		}
		return nil, types.NewMalformedDefinition(field, "must be a mapping")
	}
	return types.Data(m), nil
}

func joinField(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func requiredString(m types.Data, parent, key string) (string, error) {
	v, exists := m[key]
	if !exists || v == nil {
		return "", types.NewMalformedDefinition(joinField(parent, key), "is required")
	}
	s, err := scalarString(v)
	if err != nil {
		return "", types.NewMalformedDefinition(joinField(parent, key), "must be a string")
	}
	if s == "" {
		return "", types.NewMalformedDefinition(joinField(parent, key), "must not be empty")
	}
	return s, nil
}

func scalarString(v any) (string, error) {
	switch v.(type) {
	case map[string]any, []any:
		return "", errors.NotValidf("non scalar value")
	}
	return cast.ToStringE(v)
}
