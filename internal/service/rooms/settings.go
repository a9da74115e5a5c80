package rooms

// mergeSettings shallow-merges partial into current: keys present in
// partial override, all other keys are preserved. Neither input is
// mutated. Two concurrent updates touching disjoint keys must both
// survive, so merging happens against a fresh read, never a cached copy.
func mergeSettings(current, partial map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(partial))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}
