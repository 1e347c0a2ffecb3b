package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"procwatch/core"
)

// IdentityFor derives the default process identity for a schema: a
// fingerprint over the ordered (name, type) pairs of its numeric columns.
// Batches with the same numeric layout share one baseline; adding or
// retyping a measurement column starts a fresh one. Callers may override
// this with an explicit identity at ingest time.
func IdentityFor(schema core.ColumnSchema) string {
	var sb strings.Builder
	for _, c := range schema.NumericColumns() {
		sb.WriteString(c.Name)
		sb.WriteByte(':')
		sb.WriteString(string(c.Type))
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return "p_" + hex.EncodeToString(sum[:8])
}
