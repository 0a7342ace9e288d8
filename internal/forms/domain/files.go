package domain

import "sort"

// ExtractFileIDs walks a submission data tree and collects embedded file
// upload references of the shape {data:{id:...}}. File components round-trip
// as arrays of these objects, so the walk descends both maps and slices.
//
// The result is de-duplicated and sorted for deterministic linking.
func ExtractFileIDs(data map[string]any) []string {
	seen := map[string]struct{}{}
	walkFileRefs(data, seen)
	if len(seen) == 0 {
		return nil
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func walkFileRefs(node any, seen map[string]struct{}) {
	switch value := node.(type) {
	case map[string]any:
		if inner, ok := value["data"].(map[string]any); ok {
			if id, ok := inner["id"].(string); ok && id != "" {
				seen[id] = struct{}{}
			}
		}
		for _, child := range value {
			walkFileRefs(child, seen)
		}
	case []any:
		for _, child := range value {
			walkFileRefs(child, seen)
		}
	}
}
