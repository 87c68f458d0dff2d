package analytical

import "golang.org/x/text/unicode/norm"

// normalizeText applies Unicode NFC normalization to incoming handles,
// titles, and tags so visually identical strings compare and sort the same
// regardless of whether the client sent a precomposed or decomposed form
// (spec §4.B denormalization).
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

func normalizeTags(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = normalizeText(t)
	}
	return out
}
