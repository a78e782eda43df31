package vocab

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatVectorLiteral renders a vector in pgvector literal form, "[a,b,c]".
func FormatVectorLiteral(values []float64) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("vector is empty")
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

// ParseVectorLiteral parses a pgvector literal back into a vector.
func ParseVectorLiteral(literal string) ([]float64, error) {
	trimmed := strings.TrimSpace(literal)
	if trimmed == "" {
		return nil, fmt.Errorf("vector literal is empty")
	}
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, fmt.Errorf("vector literal %q is not bracketed", truncateForError(trimmed))
	}

	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if inner == "" {
		return nil, fmt.Errorf("vector literal has no components")
	}

	parts := strings.Split(inner, ",")
	values := make([]float64, 0, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		values = append(values, value)
	}
	return values, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has no magnitude or the dimensions differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func truncateForError(s string) string {
	const maxLen = 32
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
