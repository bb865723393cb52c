package definition

import (
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/spf13/cast"

	"github.com/warriorguo/ensemble/types"
)

var (
	clusterMethods = map[string]string{
		"kmeans":  "kmeans",
		"bisect":  "bisect",
		"mixture": "mixture",
		"agglom":  "agglom",
	}
	votingModes = map[string]bool{"hard": true, "soft": true}
)

// decodeTaskConfig builds the typed config of one task from the sections
// of its entry: route for routing tasks, stack for stacking, boost for
// boosting and vote for voting.
func decodeTaskConfig(field string, typ types.TaskType, raw types.Data) (types.TaskConfig, error) {
	var (
		cfg types.TaskConfig
		err error
	)
	switch typ {
	case types.RouteCluster:
		cfg, err = decodeRouteCluster(field, raw)
	case types.RouteFeature:
		cfg, err = decodeRouteFeature(field, raw)
	case types.RouteExternal:
		cfg, err = decodeRouteExternal(field, raw)
	case types.StackTopAny:
		cfg, err = decodeStackTopAny(field, raw)
	case types.StackTopAlg:
		cfg, err = decodeStackTopAlg(field, raw)
	case types.StackTopNAlg:
		cfg, err = decodeStackTopNAlg(field, raw)
	case types.StackBlend:
		cfg, err = decodeStackBlend(field, raw)
	case types.StackClasswise:
		cfg, err = decodeStackClasswise(field, raw)
	case types.Boost:
		cfg, err = decodeBoost(field, raw)
	case types.VoteTopAlg:
		cfg, err = decodeVoteTopAlg(field, raw)
	case types.VoteMix:
		cfg, err = decodeVoteMix(field, raw)
	case types.VoteWeight:
		cfg, err = decodeVoteWeight(field, raw)
	default:
		return nil, types.NewMalformedDefinition(field+"."+keyTask, "unsupported task type %q", typ)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// section returns the named sub mapping, an empty one when absent.
func section(field string, raw types.Data, name string) (types.Data, string, error) {
	sectionField := field + "." + name
	v, exists := raw[name]
	if !exists || v == nil {
		return types.Data{}, sectionField, nil
	}
	m, err := asData(sectionField, v)
	return m, sectionField, err
}

func positiveInt(m types.Data, field, key string, dst *int) error {
	v, exists := m[key]
	if !exists || v == nil {
		return nil
	}
	n, err := cast.ToIntE(v)
	if err != nil || n <= 0 {
		return types.NewMalformedDefinition(field+"."+key, "must be a positive integer")
	}
	*dst = n
	return nil
}

func fraction(m types.Data, field, key string, dst *float64) error {
	v, exists := m[key]
	if !exists || v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f <= 0 || f >= 1 {
		return types.NewMalformedDefinition(field+"."+key, "must be a number between 0 and 1")
	}
	*dst = f
	return nil
}

func optionalString(m types.Data, field, key string, dst *string) error {
	v, exists := m[key]
	if !exists || v == nil {
		return nil
	}
	s, err := scalarString(v)
	if err != nil || s == "" {
		return types.NewMalformedDefinition(field+"."+key, "must be a non-empty string")
	}
	*dst = s
	return nil
}

func voting(m types.Data, field string, dst *string) error {
	if err := optionalString(m, field, "voting", dst); err != nil {
		return err
	}
	if !votingModes[*dst] {
		return types.NewMalformedDefinition(field+".voting", "must be hard or soft")
	}
	return nil
}

func decodeRouteCluster(field string, raw types.Data) (*types.RouteClusterConfig, error) {
	cfg := &types.RouteClusterConfig{}
	defaults.SetDefaults(cfg)

	route, routeField, err := section(field, raw, "route")
	if err != nil {
		return nil, err
	}
	clusterField := routeField + ".cluster"
	v, exists := route["cluster"]
	if !exists || v == nil {
		return cfg, nil
	}

	if name, err := scalarString(v); err == nil {
		method, known := clusterMethods[name]
		if !known {
			return nil, types.NewMalformedDefinition(clusterField, "unknown clustering method %q", name)
		}
		cfg.Method = method
		return cfg, nil
	}

	cluster, err := asData(clusterField, v)
	if err != nil {
		return nil, err
	}
	if len(cluster) != 1 {
		return nil, types.NewMalformedDefinition(clusterField, "must name exactly one clustering method")
	}
	for name, params := range cluster {
		method, known := clusterMethods[name]
		if !known {
			return nil, types.NewMalformedDefinition(clusterField, "unknown clustering method %q", name)
		}
		cfg.Method = method
		if params == nil {
			continue
		}
		paramField := clusterField + "." + name
		m, err := asData(paramField, params)
		if err != nil {
			return nil, err
		}
		if err := positiveInt(m, paramField, "n_clusters", &cfg.NClusters); err != nil {
			return nil, err
		}
		if err := positiveInt(m, paramField, "n_components", &cfg.NClusters); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func decodeRouteFeature(field string, raw types.Data) (*types.RouteFeatureConfig, error) {
	route, routeField, err := section(field, raw, "route")
	if err != nil {
		return nil, err
	}
	features, err := optionalStrings(route, routeField, "feature")
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, types.NewMalformedDefinition(routeField+".feature", "is required")
	}
	return &types.RouteFeatureConfig{Features: features}, nil
}

func decodeRouteExternal(field string, raw types.Data) (*types.RouteExternalConfig, error) {
	route, routeField, err := section(field, raw, "route")
	if err != nil {
		return nil, err
	}
	column, err := requiredString(route, routeField, "external")
	if err != nil {
		return nil, err
	}
	return &types.RouteExternalConfig{Column: column}, nil
}

func decodeStackTopAny(field string, raw types.Data) (*types.StackTopAnyConfig, error) {
	cfg := &types.StackTopAnyConfig{}
	defaults.SetDefaults(cfg)

	stack, stackField, err := section(field, raw, "stack")
	if err != nil {
		return nil, err
	}
	if err := positiveInt(stack, stackField, "top_n", &cfg.TopN); err != nil {
		return nil, err
	}
	if err := optionalString(stack, stackField, "meta_learner", &cfg.MetaLearner); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStackTopAlg(field string, raw types.Data) (*types.StackTopAlgConfig, error) {
	cfg := &types.StackTopAlgConfig{}
	defaults.SetDefaults(cfg)

	stack, stackField, err := section(field, raw, "stack")
	if err != nil {
		return nil, err
	}
	if cfg.Algorithm, err = requiredString(stack, stackField, "algorithm"); err != nil {
		return nil, err
	}
	if err := positiveInt(stack, stackField, "top_n", &cfg.TopN); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStackTopNAlg(field string, raw types.Data) (*types.StackTopNAlgConfig, error) {
	cfg := &types.StackTopNAlgConfig{}
	defaults.SetDefaults(cfg)

	stack, stackField, err := section(field, raw, "stack")
	if err != nil {
		return nil, err
	}
	if cfg.Algorithms, err = optionalStrings(stack, stackField, "algorithms"); err != nil {
		return nil, err
	}
	if len(cfg.Algorithms) == 0 {
		return nil, types.NewMalformedDefinition(stackField+".algorithms", "is required")
	}
	if err := positiveInt(stack, stackField, "top_n", &cfg.TopN); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStackBlend(field string, raw types.Data) (*types.StackBlendConfig, error) {
	cfg := &types.StackBlendConfig{}
	defaults.SetDefaults(cfg)

	stack, stackField, err := section(field, raw, "stack")
	if err != nil {
		return nil, err
	}
	if err := fraction(stack, stackField, "holdout", &cfg.Holdout); err != nil {
		return nil, err
	}
	if err := optionalString(stack, stackField, "meta_learner", &cfg.MetaLearner); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStackClasswise(field string, raw types.Data) (*types.StackClasswiseConfig, error) {
	cfg := &types.StackClasswiseConfig{}
	defaults.SetDefaults(cfg)

	stack, stackField, err := section(field, raw, "stack")
	if err != nil {
		return nil, err
	}
	if err := positiveInt(stack, stackField, "top_n", &cfg.TopN); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeBoost(field string, raw types.Data) (*types.BoostConfig, error) {
	cfg := &types.BoostConfig{}
	defaults.SetDefaults(cfg)

	boost, boostField, err := section(field, raw, "boost")
	if err != nil {
		return nil, err
	}
	if err := positiveInt(boost, boostField, "rounds", &cfg.Rounds); err != nil {
		return nil, err
	}
	if err := fraction(boost, boostField, "learning_rate", &cfg.LearningRate); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeVoteTopAlg(field string, raw types.Data) (*types.VoteTopAlgConfig, error) {
	cfg := &types.VoteTopAlgConfig{}
	defaults.SetDefaults(cfg)

	vote, voteField, err := section(field, raw, "vote")
	if err != nil {
		return nil, err
	}
	if err := positiveInt(vote, voteField, "top_alg", &cfg.TopAlg); err != nil {
		return nil, err
	}
	if err := voting(vote, voteField, &cfg.Voting); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeVoteMix(field string, raw types.Data) (*types.VoteMixConfig, error) {
	cfg := &types.VoteMixConfig{}
	defaults.SetDefaults(cfg)

	vote, voteField, err := section(field, raw, "vote")
	if err != nil {
		return nil, err
	}
	if cfg.Algorithms, err = optionalStrings(vote, voteField, "algorithms"); err != nil {
		return nil, err
	}
	if len(cfg.Algorithms) < 2 {
		return nil, types.NewMalformedDefinition(voteField+".algorithms", "must list at least two algorithms")
	}
	if err := voting(vote, voteField, &cfg.Voting); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeVoteWeight(field string, raw types.Data) (*types.VoteWeightConfig, error) {
	vote, voteField, err := section(field, raw, "vote")
	if err != nil {
		return nil, err
	}
	weightsField := voteField + ".weights"
	v, exists := vote["weights"]
	if !exists || v == nil {
		return nil, types.NewMalformedDefinition(weightsField, "is required")
	}
	m, err := asData(weightsField, v)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, types.NewMalformedDefinition(weightsField, "must not be empty")
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg := &types.VoteWeightConfig{Weights: make(map[string]float64, len(m))}
	for _, name := range names {
		w, err := cast.ToFloat64E(m[name])
		if err != nil || w < 0 {
			return nil, types.NewMalformedDefinition(weightsField+"."+name, "must be a non-negative number")
		}
		cfg.Weights[name] = w
	}
	return cfg, nil
}
