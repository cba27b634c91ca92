package lsp

// DefaultClientCapabilities returns the capability set advertised when
// the caller supplies none. Hover rendering is restricted to plain text
// so results display without a markdown renderer.
func DefaultClientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"hover": map[string]any{
				"contentFormat": []string{"plaintext"},
			},
			"definition": map[string]any{},
		},
	}
}

// MergeCapabilities deep-merges caller-supplied capabilities onto the
// defaults. Caller entries win on conflict; nested objects are merged
// key by key so supplying one capability does not wipe out the rest of
// the default set. The capability payload is otherwise opaque to this
// layer.
func MergeCapabilities(defaults, caller map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(caller))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range caller {
		base, baseOK := merged[k].(map[string]any)
		next, nextOK := v.(map[string]any)
		if baseOK && nextOK {
			merged[k] = MergeCapabilities(base, next)
			continue
		}
		merged[k] = v
	}
	return merged
}
