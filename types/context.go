package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	DefaultTimeout = 10 * time.Minute
)

type ResourceClass string

const (
	ResourceGPU   ResourceClass = "GPU"
	ResourceNoGPU ResourceClass = "NO_GPU"
)

type Compute struct {
	Serverless []string `json:"serverless,omitempty"`
}

type Sample struct {
	Size   int      `json:"size,omitempty"`
	Method []string `json:"method,omitempty"`
}

// Source locates the training table and its label column.
type Source struct {
	Catalog string `json:"catalog"`
	Schema  string `json:"schema"`
	Table   string `json:"table"`
	Target  string `json:"target"`
}

func (s Source) TablePath() string {
	return s.Catalog + "." + s.Schema + "." + s.Table
}

// WorkflowContext is shared read-only by every task of one workflow.
// Callers receive copies; the ledger keeps the original.
type WorkflowContext struct {
	Name     string              `json:"name"`
	Compute  Compute             `json:"compute"`
	Timeout  string              `json:"timeout"`
	Metric   map[string][]string `json:"metric,omitempty"`
	Sample   Sample              `json:"sample"`
	FoldType []string            `json:"fold_type,omitempty"`
	Source   Source              `json:"source"`
}

func (c WorkflowContext) ResourceClass() ResourceClass {
	if len(c.Compute.Serverless) == 1 && strings.EqualFold(c.Compute.Serverless[0], string(ResourceGPU)) {
		return ResourceGPU
	}
	return ResourceNoGPU
}

// TimeoutDuration is the per-task budget; an unparsable value falls back to DefaultTimeout.
func (c WorkflowContext) TimeoutDuration() time.Duration {
	d, err := ParseTimeout(c.Timeout)
	if err != nil {
		return DefaultTimeout
	}
	return d
}

func (c WorkflowContext) Clone() WorkflowContext {
	out := c
	out.Compute.Serverless = cloneStrings(c.Compute.Serverless)
	out.Sample.Method = cloneStrings(c.Sample.Method)
	out.FoldType = cloneStrings(c.FoldType)
	if c.Metric != nil {
		out.Metric = make(map[string][]string, len(c.Metric))
		for k, v := range c.Metric {
			out.Metric[k] = cloneStrings(v)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

var timeoutUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
}

// ParseTimeout understands "10 minutes", "2 hours", "90 seconds",
// a bare whole number of seconds and Go durations such as "1h30m".
// Amounts are decimal, "010 minutes" is ten minutes.
// An empty string yields DefaultTimeout.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTimeout, nil
	}

	var d time.Duration
	if fields := strings.Fields(s); len(fields) == 2 {
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, errors.NotValidf("timeout amount %q", fields[0])
		}
		unit, exists := timeoutUnits[strings.ToLower(fields[1])]
		if !exists {
			return 0, errors.NotValidf("timeout unit %q", fields[1])
		}
		d = time.Duration(n) * unit
	} else if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else if _, err := strconv.ParseFloat(s, 64); err == nil {
		return 0, errors.NotValidf("timeout %q, bare numbers are whole seconds", s)
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, errors.NotValidf("timeout %q", s)
	}

	if d <= 0 {
		return 0, errors.NotValidf("timeout %q must be positive", s)
	}
	return d, nil
}
