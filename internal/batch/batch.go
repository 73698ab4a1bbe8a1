package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of running an operation for one ID.
// Exactly one of Value or Err is meaningful.
type Outcome[T any] struct {
	ID    string
	Value T
	Err   error
}

// OK reports whether the operation succeeded.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Process calls fn for every ID and returns the outcomes in input order.
//
// With limit <= 1 items run one after another. Otherwise at most limit items
// run at once. Errors from fn are recorded on the item's Outcome and do not
// stop the remaining items.
func Process[T any](ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], len(ids))

	if limit <= 1 {
		for i, id := range ids {
			v, err := fn(ctx, id)
			outcomes[i] = Outcome[T]{ID: id, Value: v, Err: err}
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			v, err := fn(ctx, id)
			outcomes[i] = Outcome[T]{ID: id, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Tally summarizes a set of outcomes.
type Tally struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Count tallies successes and failures.
func Count[T any](outcomes []Outcome[T]) Tally {
	t := Tally{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.OK() {
			t.Successful++
		} else {
			t.Failed++
		}
	}
	return t
}

// ParseStringOrArray parses a tool parameter that can be a single string, an
// array of strings, or a JSON-encoded array of strings. Empty strings inside
// an array are kept so that each one yields its own failed outcome.
func ParseStringOrArray(param interface{}, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		if trimmed := strings.TrimSpace(v); strings.HasPrefix(trimmed, "[") {
			var items []interface{}
			if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
				return nil, fmt.Errorf("%s is not a valid JSON array: %w", paramName, err)
			}
			return parseItems(items, paramName)
		}
		return []string{v}, nil
	case []string:
		items := make([]interface{}, len(v))
		for i, s := range v {
			items[i] = s
		}
		return parseItems(items, paramName)
	case []interface{}:
		return parseItems(v, paramName)
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}
}

func parseItems(items []interface{}, paramName string) ([]string, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", paramName)
	}

	result := make([]string, 0, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
		}
		result = append(result, str)
	}
	return result, nil
}
