package projection

// MergePatch applies patch to target with JSON merge-patch (RFC 7386) rules
// and returns the result:
//
//   - a patch that is not an object replaces the target outright, so arrays
//     and scalars are never merged;
//   - a null member deletes that key from the target;
//   - object members recurse, keys missing from the patch are left alone.
//
// Only maps created by MergePatch itself are mutated; non-object patch
// values are adopted by reference and never written to afterwards.
func MergePatch(target, patch any) any {
	p, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	t, ok := target.(map[string]any)
	if !ok {
		t = make(map[string]any, len(p))
	}
	for k, v := range p {
		if v == nil {
			delete(t, k)
			continue
		}
		t[k] = MergePatch(t[k], v)
	}
	return t
}

// Fold merges docs oldest to newest starting from an empty object. Nil
// documents are skipped.
func Fold(docs []any) any {
	var acc any = map[string]any{}
	for _, d := range docs {
		if d == nil {
			continue
		}
		acc = MergePatch(acc, d)
	}
	return acc
}
