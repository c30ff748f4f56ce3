package cli

import (
	"fmt"
	"strings"

	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/paths"
)

// Parses --secret values of the form "id=ID,src=PATH".
//
// The value itself never appears on the command line; only the file
// holding it does.
func parseSecrets(values []string) ([]mount.Binding, error) {
	bindings := make([]mount.Binding, 0, len(values))
	for _, v := range values {
		b, err := parseSecret(v)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func parseSecret(v string) (mount.Binding, error) {
	var b mount.Binding
	for _, field := range strings.Split(v, ",") {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return b, fmt.Errorf("--secret %q: expected key=value, got %q", v, field)
		}
		switch key {
		case "id":
			b.ID = value
		case "src", "source":
			b.Source = paths.Expand(value)
		default:
			return b, fmt.Errorf("--secret %q: unknown key %q", v, key)
		}
	}
	if b.ID == "" || b.Source == "" {
		return b, fmt.Errorf("--secret %q: id and src are required", v)
	}
	return b, nil
}
