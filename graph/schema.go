// Package graph serves the planner GraphQL schema.
package graph

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	graphql "github.com/graph-gophers/graphql-go"
)

//go:embed schema.graphql
var schemaSDL string

// maxQueryDepth bounds nested selections.
const maxQueryDepth = 10

// Request is a GraphQL operation as sent over HTTP or websocket.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Schema executes operations against the parsed planner schema.
type Schema struct {
	schema *graphql.Schema
}

// NewSchema parses the SDL against r and checks that every Subscription field
// has a topic.
func NewSchema(r *Resolver) (*Schema, error) {
	s, err := graphql.ParseSchema(schemaSDL, r, graphql.MaxDepth(maxQueryDepth))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	sc := &Schema{schema: s}
	if err := sc.checkSubscriptions(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Exec runs a query or mutation.
func (s *Schema) Exec(ctx context.Context, req Request) *graphql.Response {
	return s.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
}

// Subscribe starts a subscription operation. The returned channel is closed
// when the stream ends or ctx is cancelled. Operations that fail before
// streaming yield a single response carrying only errors.
func (s *Schema) Subscribe(ctx context.Context, req Request) (<-chan *graphql.Response, error) {
	raw, err := s.schema.Subscribe(ctx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		return nil, err
	}
	out := make(chan *graphql.Response)
	go func() {
		defer close(out)
		for v := range raw {
			resp, ok := v.(*graphql.Response)
			if !ok {
				continue
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				go func() {
					for range raw {
					}
				}()
				return
			}
		}
	}()
	return out, nil
}

const subscriptionFieldsQuery = `{ __schema { subscriptionType { fields { name } } } }`

func (s *Schema) checkSubscriptions() error {
	resp := s.schema.Exec(context.Background(), subscriptionFieldsQuery, "", nil)
	if len(resp.Errors) > 0 {
		return fmt.Errorf("introspect subscriptions: %v", resp.Errors[0])
	}
	var data struct {
		Schema struct {
			SubscriptionType struct {
				Fields []struct {
					Name string `json:"name"`
				} `json:"fields"`
			} `json:"subscriptionType"`
		} `json:"__schema"`
	}
	if err := sonic.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("decode introspection: %w", err)
	}
	fields := make(map[string]bool)
	for _, f := range data.Schema.SubscriptionType.Fields {
		fields[f.Name] = true
		if _, ok := subscriptionTopics[f.Name]; !ok {
			return fmt.Errorf("subscription %q has no topic", f.Name)
		}
	}
	var stale []string
	for name := range subscriptionTopics {
		if !fields[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		return fmt.Errorf("topics mapped for unknown subscriptions: %v", stale)
	}
	return nil
}
