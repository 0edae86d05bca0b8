// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mmongo

import (
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"
)

// FlattenBSONM flattens nested bson.M documents into dot-notation keys,
// prefixing every key with prefix when it is non-empty.
func FlattenBSONM(doc bson.M, prefix string) bson.M {
	flat := bson.M{}

	for key, value := range doc {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if nested, ok := value.(bson.M); ok {
			for k, v := range FlattenBSONM(nested, path) {
				flat[k] = v
			}

			continue
		}

		flat[path] = value
	}

	return flat
}

// BuildDocumentToPatch turns an update document plus a list of fields to
// remove into a mongo patch with $set and $unset sections. Removed fields and
// their children never appear in $set. Keys under the metadata namespace are
// unset verbatim; all other removal paths are unset by their snake_case
// document key.
func BuildDocumentToPatch(updateDocument bson.M, fieldsToRemove []string) bson.M {
	patch := bson.M{}

	set := FlattenBSONM(updateDocument, "")
	for _, field := range fieldsToRemove {
		for key := range set {
			if key == field || strings.HasPrefix(key, field+".") {
				delete(set, key)
			}
		}
	}

	if len(set) > 0 {
		patch["$set"] = set
	}

	if len(fieldsToRemove) > 0 {
		unset := bson.M{}

		for _, field := range fieldsToRemove {
			if strings.HasPrefix(field, "metadata.") {
				unset[field] = ""

				continue
			}

			unset[ToSnakePath(field)] = field
		}

		patch["$unset"] = unset
	}

	return patch
}

// ToSnakePath converts each dot-separated segment of path to snake_case.
func ToSnakePath(path string) string {
	segments := strings.Split(path, ".")
	for i, segment := range segments {
		segments[i] = toSnake(segment)
	}

	return strings.Join(segments, ".")
}

func toSnake(s string) string {
	var b strings.Builder

	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
