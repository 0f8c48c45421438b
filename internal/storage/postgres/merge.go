package postgres

// DeepMerge merges patch into base recursively: map values recurse, any
// other value is replaced. Inputs are not mutated. Merging the same patch
// twice yields the same result (idempotent).
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		if pm, ok := pv.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = DeepMerge(bm, pm)
				continue
			}
			out[k] = DeepMerge(nil, pm)
			continue
		}
		out[k] = pv
	}
	return out
}
