// Package definition parses the YAML description of an ensemble pipeline.
//
// A definition has a context block shared by every task and an ordered job
// list:
//
//	context:
//	  name: my_ensemble
//	  compute:
//	    serverless: [GPU]
//	  timeout: 10 minutes
//	  metric:
//	    classification: [accuracy, f1]
//	  sample:
//	    size: 10000
//	    method: [random]
//	  fold_type: [kfold]
//	  source:
//	    catalog: main
//	    schema: ml_data
//	    table: training_set
//	    target: label
//	job:
//	  - task: route_cluster
//	    route:
//	      cluster: kmeans
//	  - task: stack_top_any
//	    stack:
//	      top_n: 5
//	    depends_on:
//	      - task: route_cluster
//
// The whole document may also be nested under an `obsrv` key.
// Parsing only checks shape and types; graph level checks belong to the
// graph package.
package definition
