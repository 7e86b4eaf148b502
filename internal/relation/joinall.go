package relation

import "composer/internal/jsonvalue"

// Batch is the record set fetched from one source.
type Batch struct {
	SourceID string
	Records  []jsonvalue.Value
}

// JoinAll applies every relationship across the batches and returns the root
// records: those of sources that are not embedded as a child, in batch order.
//
// A relationship is applied only after the relationships that enrich its
// child source, so chains (A embeds B, B embeds C) nest fully. Cycles fall
// back to declaration order.
func JoinAll(batches []Batch, rels []Relationship) []Record {
	sets := make(map[string][]Record, len(batches))
	for _, b := range batches {
		sets[b.SourceID] = append(sets[b.SourceID], Tag(b.SourceID, b.Records...)...)
	}

	embedded := make(map[string]bool)
	for _, rel := range order(rels) {
		sets[rel.ParentSourceID] = Join(sets[rel.ParentSourceID], sets[rel.ChildSourceID], rel)
		embedded[rel.ChildSourceID] = true
	}

	var out []Record
	seen := make(map[string]bool)
	for _, b := range batches {
		if embedded[b.SourceID] || seen[b.SourceID] {
			continue
		}
		seen[b.SourceID] = true
		out = append(out, sets[b.SourceID]...)
	}
	return out
}

// order sorts relationships so that a relationship whose child is itself a
// parent elsewhere runs after that other relationship.
func order(rels []Relationship) []Relationship {
	pending := append([]Relationship(nil), rels...)
	out := make([]Relationship, 0, len(rels))
	for len(pending) > 0 {
		picked := -1
		for i, r := range pending {
			if !parentOfAny(r.ChildSourceID, pending, i) {
				picked = i
				break
			}
		}
		if picked < 0 {
			picked = 0
		}
		out = append(out, pending[picked])
		pending = append(pending[:picked], pending[picked+1:]...)
	}
	return out
}

func parentOfAny(source string, rels []Relationship, skip int) bool {
	for i, r := range rels {
		if i != skip && r.ParentSourceID == source {
			return true
		}
	}
	return false
}
