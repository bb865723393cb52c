package types

// TaskType is the closed set of ensemble microservices a task can run.
type TaskType string

const (
	RouteCluster   TaskType = "route_cluster"
	RouteFeature   TaskType = "route_feature"
	RouteExternal  TaskType = "route_external"
	StackTopAny    TaskType = "stack_top_any"
	StackTopAlg    TaskType = "stack_top_alg"
	StackTopNAlg   TaskType = "stack_top_n_alg"
	StackBlend     TaskType = "stack_blend"
	StackClasswise TaskType = "stack_classwise"
	Boost          TaskType = "boost"
	VoteTopAlg     TaskType = "vote_top_alg"
	VoteMix        TaskType = "vote_mix"
	VoteWeight     TaskType = "vote_weight"
)

var taskTypes = []TaskType{
	RouteCluster, RouteFeature, RouteExternal,
	StackTopAny, StackTopAlg, StackTopNAlg, StackBlend, StackClasswise,
	Boost,
	VoteTopAlg, VoteMix, VoteWeight,
}

func TaskTypes() []TaskType {
	return append([]TaskType{}, taskTypes...)
}

func ParseTaskType(s string) (TaskType, bool) {
	for _, t := range taskTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ServiceName is the remote unit of work that implements the task type.
func (t TaskType) ServiceName() string {
	return string(t) + "_service"
}

// TaskConfig is implemented only by the typed configs in this file.
type TaskConfig interface {
	TaskType() TaskType
	sealed()
}

type RouteClusterConfig struct {
	Method    string `json:"method" default:"kmeans"`
	NClusters int    `json:"n_clusters" default:"5"`
}

type RouteFeatureConfig struct {
	Features []string `json:"features"`
}

type RouteExternalConfig struct {
	Column string `json:"column"`
}

type StackTopAnyConfig struct {
	TopN        int    `json:"top_n" default:"5"`
	MetaLearner string `json:"meta_learner" default:"logistic"`
}

type StackTopAlgConfig struct {
	Algorithm string `json:"algorithm"`
	TopN      int    `json:"top_n" default:"3"`
}

type StackTopNAlgConfig struct {
	Algorithms []string `json:"algorithms"`
	TopN       int      `json:"top_n" default:"1"`
}

type StackBlendConfig struct {
	Holdout     float64 `json:"holdout" default:"0.2"`
	MetaLearner string  `json:"meta_learner" default:"logistic"`
}

type StackClasswiseConfig struct {
	TopN int `json:"top_n" default:"3"`
}

type BoostConfig struct {
	Rounds       int     `json:"rounds" default:"3"`
	LearningRate float64 `json:"learning_rate" default:"0.1"`
}

type VoteTopAlgConfig struct {
	TopAlg int    `json:"top_alg" default:"3"`
	Voting string `json:"voting" default:"soft"`
}

type VoteMixConfig struct {
	Algorithms []string `json:"algorithms"`
	Voting     string   `json:"voting" default:"soft"`
}

type VoteWeightConfig struct {
	Weights map[string]float64 `json:"weights"`
}

func (*RouteClusterConfig) TaskType() TaskType   { return RouteCluster }
func (*RouteFeatureConfig) TaskType() TaskType   { return RouteFeature }
func (*RouteExternalConfig) TaskType() TaskType  { return RouteExternal }
func (*StackTopAnyConfig) TaskType() TaskType    { return StackTopAny }
func (*StackTopAlgConfig) TaskType() TaskType    { return StackTopAlg }
func (*StackTopNAlgConfig) TaskType() TaskType   { return StackTopNAlg }
func (*StackBlendConfig) TaskType() TaskType     { return StackBlend }
func (*StackClasswiseConfig) TaskType() TaskType { return StackClasswise }
func (*BoostConfig) TaskType() TaskType          { return Boost }
func (*VoteTopAlgConfig) TaskType() TaskType     { return VoteTopAlg }
func (*VoteMixConfig) TaskType() TaskType        { return VoteMix }
func (*VoteWeightConfig) TaskType() TaskType     { return VoteWeight }

func (*RouteClusterConfig) sealed()   {}
func (*RouteFeatureConfig) sealed()   {}
func (*RouteExternalConfig) sealed()  {}
func (*StackTopAnyConfig) sealed()    {}
func (*StackTopAlgConfig) sealed()    {}
func (*StackTopNAlgConfig) sealed()   {}
func (*StackBlendConfig) sealed()     {}
func (*StackClasswiseConfig) sealed() {}
func (*BoostConfig) sealed()          {}
func (*VoteTopAlgConfig) sealed()     {}
func (*VoteMixConfig) sealed()        {}
func (*VoteWeightConfig) sealed()     {}

// TaskDefinition is one node of the pipeline, immutable once parsed.
type TaskDefinition struct {
	ID     string
	Type   TaskType
	Config TaskConfig
	// Raw holds the entry as written, minus task/id/depends_on.
	// It is what gets shipped to the backend.
	Raw       Data
	DependsOn []string
}
