package llmclient

import "context"

// Fake is an in-memory Client for tests: it joins entries with the
// configured separator instead of calling out to a model.
type Fake struct {
	Separator string
}

var _ Client = Fake{}

func (f Fake) Summarize(_ context.Context, entries []string) (string, error) {
	sep := f.Separator
	if sep == "" {
		sep = "; "
	}
	if len(entries) == 0 {
		return "Nothing logged for this period.", nil
	}

	out := entries[0]
	for _, e := range entries[1:] {
		out += sep + e
	}
	return out, nil
}
