package mmongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFlattenBSONM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  bson.M
		prefix string
		want   bson.M
	}{
		{
			name:   "empty map",
			input:  bson.M{},
			prefix: "",
			want:   bson.M{},
		},
		{
			name:   "flat map no prefix",
			input:  bson.M{"a": 1, "b": "two"},
			prefix: "",
			want:   bson.M{"a": 1, "b": "two"},
		},
		{
			name:   "flat map with prefix",
			input:  bson.M{"a": 1},
			prefix: "parent",
			want:   bson.M{"parent.a": 1},
		},
		{
			name: "deeply nested map",
			input: bson.M{
				"a": bson.M{
					"b": bson.M{
						"c": "deep",
					},
				},
			},
			prefix: "",
			want:   bson.M{"a.b.c": "deep"},
		},
		{
			name: "mixed nested and flat",
			input: bson.M{
				"flat": "value",
				"nested": bson.M{
					"child": "nested_value",
				},
			},
			prefix: "",
			want:   bson.M{"flat": "value", "nested.child": "nested_value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, FlattenBSONM(tt.input, tt.prefix))
		})
	}
}

func TestBuildDocumentToPatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		updateDocument bson.M
		fieldsToRemove []string
		wantSet        bson.M
		wantUnset      bson.M
	}{
		{
			name:           "empty document and no fields to remove",
			updateDocument: bson.M{},
			fieldsToRemove: nil,
			wantSet:        nil,
			wantUnset:      nil,
		},
		{
			name:           "nested document flattens to dot notation",
			updateDocument: bson.M{"address": bson.M{"city": "NYC", "state": "NY"}},
			fieldsToRemove: nil,
			wantSet:        bson.M{"address.city": "NYC", "address.state": "NY"},
			wantUnset:      nil,
		},
		{
			name:           "metadata prefix preserved in unset",
			updateDocument: bson.M{},
			fieldsToRemove: []string{"metadata.customKey"},
			wantSet:        nil,
			wantUnset:      bson.M{"metadata.customKey": ""},
		},
		{
			name:           "non-metadata field converted to snake_case in unset",
			updateDocument: bson.M{},
			fieldsToRemove: []string{"bankingDetails.routingNumber"},
			wantSet:        nil,
			wantUnset:      bson.M{"banking_details.routing_number": "bankingDetails.routingNumber"},
		},
		{
			name: "fields to remove excludes matching keys and children from set",
			updateDocument: bson.M{
				"keep": "value",
				"addresses": bson.M{
					"primary":   bson.M{"city": "NYC"},
					"secondary": bson.M{"city": "LA"},
				},
			},
			fieldsToRemove: []string{"addresses.primary"},
			wantSet:        bson.M{"keep": "value", "addresses.secondary.city": "LA"},
			wantUnset:      bson.M{"addresses.primary": "addresses.primary"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := BuildDocumentToPatch(tt.updateDocument, tt.fieldsToRemove)

			if tt.wantSet == nil {
				assert.NotContains(t, result, "$set")
			} else {
				assert.Equal(t, tt.wantSet, result["$set"])
			}

			if tt.wantUnset == nil {
				assert.NotContains(t, result, "$unset")
			} else {
				assert.Equal(t, tt.wantUnset, result["$unset"])
			}
		})
	}
}
