package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/ensemble/types"
)

type clusterSummary struct {
	Method   string `json:"method"`
	Clusters int    `json:"clusters"`
}

func TestData(t *testing.T) {
	data := types.Data{}
	data.Set("rows", 10)
	data.Set("score", "0.93")
	data.Set("models", []any{"xgboost", "lightgbm"})
	data.Set("summary", map[string]any{"method": "kmeans", "clusters": 5})

	_, exists := data.Get("missing")
	assert.False(t, exists)

	rows, exists := data.GetInt("rows")
	assert.True(t, exists)
	assert.Equal(t, 10, rows)

	s, _ := data.GetString("rows")
	assert.Equal(t, "10", s)

	score, _ := data.GetFloat64("score")
	assert.InDelta(t, 0.93, score, 1e-9)

	models, _ := data.GetStringSlice("models")
	assert.Equal(t, []string{"xgboost", "lightgbm"}, models)

	nested, ok := data.GetData("summary")
	assert.True(t, ok)
	method, _ := nested.GetString("method")
	assert.Equal(t, "kmeans", method)

	_, ok = data.GetData("rows")
	assert.False(t, ok)

	summary := &clusterSummary{}
	require.NoError(t, data.Decode("summary", summary))
	assert.Equal(t, clusterSummary{"kmeans", 5}, *summary)
	assert.Error(t, data.Decode("missing", summary))
}

func TestDataClone(t *testing.T) {
	data := types.Data{
		"route": map[string]any{"cluster": map[string]any{"kmeans": map[string]any{"n_clusters": 5}}},
		"list":  []any{map[string]any{"a": 1}},
	}
	clone := data.Clone()

	route, _ := clone.GetData("route")
	route.Set("cluster", "bisect")
	clone["list"].([]any)[0].(types.Data).Set("a", 2)

	orig, _ := data.GetData("route")
	_, isMap := orig["cluster"].(map[string]any)
	assert.True(t, isMap)
	assert.Equal(t, 1, data["list"].([]any)[0].(map[string]any)["a"])

	assert.Nil(t, types.Data(nil).Clone())
}
