// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package domain

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// AggregateBuilder assembles a grouped aggregation pipeline over one model.
// Stages come out in a fixed order whatever the order of the builder calls:
// match, group, having, then any appended raw stages.
type AggregateBuilder struct {
	compiler *Compiler
	model    string

	match        Expression
	groupKeys    []string
	accumulators bson.M
	having       bson.M
	extraStages  []bson.M
}

// NewAggregate starts a builder for modelName.
func (c *Compiler) NewAggregate(modelName string) *AggregateBuilder {
	return &AggregateBuilder{
		compiler:     c,
		model:        modelName,
		accumulators: bson.M{},
	}
}

// Match constrains the input documents with a domain expression.
func (b *AggregateBuilder) Match(expr Expression) *AggregateBuilder {
	b.match = expr
	return b
}

// GroupBy adds grouping keys. Without accumulators the groups carry only
// their key.
func (b *AggregateBuilder) GroupBy(fields ...string) *AggregateBuilder {
	b.groupKeys = append(b.groupKeys, fields...)
	return b
}

// Count accumulates the group cardinality under alias.
func (b *AggregateBuilder) Count(alias string) *AggregateBuilder {
	b.accumulators[alias] = bson.M{"$sum": 1}
	return b
}

// Sum accumulates the sum of field under alias.
func (b *AggregateBuilder) Sum(alias, field string) *AggregateBuilder {
	b.accumulators[alias] = bson.M{"$sum": "$" + field}
	return b
}

// Avg accumulates the mean of field under alias.
func (b *AggregateBuilder) Avg(alias, field string) *AggregateBuilder {
	b.accumulators[alias] = bson.M{"$avg": "$" + field}
	return b
}

// Min accumulates the minimum of field under alias.
func (b *AggregateBuilder) Min(alias, field string) *AggregateBuilder {
	b.accumulators[alias] = bson.M{"$min": "$" + field}
	return b
}

// Max accumulates the maximum of field under alias.
func (b *AggregateBuilder) Max(alias, field string) *AggregateBuilder {
	b.accumulators[alias] = bson.M{"$max": "$" + field}
	return b
}

// Having filters the grouped documents; keys reference accumulator aliases.
func (b *AggregateBuilder) Having(filter bson.M) *AggregateBuilder {
	b.having = filter
	return b
}

// AddStage appends a raw pipeline stage after the built ones.
func (b *AggregateBuilder) AddStage(stage bson.M) *AggregateBuilder {
	b.extraStages = append(b.extraStages, stage)
	return b
}

// Build compiles the builder into an ordered pipeline.
func (b *AggregateBuilder) Build(ctx context.Context) ([]bson.M, error) {
	var pipeline []bson.M

	if b.match != nil {
		compiled, err := b.compiler.Compile(ctx, b.model, b.match)
		if err != nil {
			return nil, err
		}

		pipeline = append(pipeline, compiled.Stages...)

		if len(compiled.Filter) > 0 {
			pipeline = append(pipeline, bson.M{"$match": compiled.Filter})
		}
	}

	if len(b.groupKeys) > 0 || len(b.accumulators) > 0 {
		var groupID any

		switch len(b.groupKeys) {
		case 0:
			groupID = nil
		case 1:
			groupID = "$" + b.groupKeys[0]
		default:
			compound := bson.M{}
			for _, key := range b.groupKeys {
				compound[key] = "$" + key
			}

			groupID = compound
		}

		group := bson.M{"_id": groupID}
		for alias, acc := range b.accumulators {
			group[alias] = acc
		}

		pipeline = append(pipeline, bson.M{"$group": group})
	}

	if len(b.having) > 0 {
		pipeline = append(pipeline, bson.M{"$match": b.having})
	}

	return append(pipeline, b.extraStages...), nil
}

// FrameKind selects the window frame unit.
type FrameKind string

const (
	FrameRows  FrameKind = "documents"
	FrameRange FrameKind = "range"
)

// WindowBuilder assembles a $setWindowFields stage.
type WindowBuilder struct {
	partitionBy string
	sortBy      bson.D
	frameKind   FrameKind
	frameStart  any
	frameEnd    any
	outputs     bson.M
}

// NewWindow starts an empty window builder.
func NewWindow() *WindowBuilder {
	return &WindowBuilder{outputs: bson.M{}}
}

// PartitionBy splits the window by field.
func (b *WindowBuilder) PartitionBy(field string) *WindowBuilder {
	b.partitionBy = field
	return b
}

// OrderBy orders documents inside each partition.
func (b *WindowBuilder) OrderBy(field string, ascending bool) *WindowBuilder {
	direction := 1
	if !ascending {
		direction = -1
	}

	b.sortBy = append(b.sortBy, bson.E{Key: field, Value: direction})

	return b
}

// Frame bounds the window; start and end follow mongo window syntax
// ("unbounded", "current" or an offset).
func (b *WindowBuilder) Frame(kind FrameKind, start, end any) *WindowBuilder {
	b.frameKind = kind
	b.frameStart = start
	b.frameEnd = end

	return b
}

// Rank adds a rank output field.
func (b *WindowBuilder) Rank(alias string) *WindowBuilder {
	b.outputs[alias] = bson.M{"$rank": bson.M{}}
	return b
}

// DenseRank adds a dense rank output field.
func (b *WindowBuilder) DenseRank(alias string) *WindowBuilder {
	b.outputs[alias] = bson.M{"$denseRank": bson.M{}}
	return b
}

// RowNumber adds a document-number output field.
func (b *WindowBuilder) RowNumber(alias string) *WindowBuilder {
	b.outputs[alias] = bson.M{"$documentNumber": bson.M{}}
	return b
}

// Sum adds a windowed sum of field under alias, honoring the configured
// frame.
func (b *WindowBuilder) Sum(alias, field string) *WindowBuilder {
	output := bson.M{"$sum": "$" + field}

	if b.frameKind != "" {
		output["window"] = bson.M{string(b.frameKind): []any{b.frameStart, b.frameEnd}}
	}

	b.outputs[alias] = output

	return b
}

// Build renders the $setWindowFields stage.
func (b *WindowBuilder) Build() bson.M {
	spec := bson.M{"output": b.outputs}

	if b.partitionBy != "" {
		spec["partitionBy"] = "$" + b.partitionBy
	}

	if len(b.sortBy) > 0 {
		spec["sortBy"] = b.sortBy
	}

	return bson.M{"$setWindowFields": spec}
}
