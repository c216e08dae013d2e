package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

// Substitute replaces {{name}} placeholders in a text template with
// collected data. Resolution order: collected value, declared default,
// empty string. "{{{{" escapes a literal "{{". Substitution is a single
// left-to-right pass; substituted values are never re-scanned.
//
// Unresolvable placeholders (no value, no default) are reported in the
// second return so the caller can log substitution misses.
func Substitute(template string, data map[string]any, vars map[string]entity.VariableMeta) (string, []string) {
	var sb strings.Builder
	var missing []string

	i := 0
	for i < len(template) {
		if strings.HasPrefix(template[i:], "{{{{") {
			sb.WriteString("{{")
			i += 4
			continue
		}
		if strings.HasPrefix(template[i:], "{{") {
			end := strings.Index(template[i+2:], "}}")
			if end < 0 {
				// Unclosed placeholder: emit the rest verbatim.
				sb.WriteString(template[i:])
				break
			}
			name := strings.TrimSpace(template[i+2 : i+2+end])
			i += end + 4

			if v, ok := data[name]; ok {
				sb.WriteString(stringify(v))
				continue
			}
			if meta, ok := vars[name]; ok && meta.Default != nil {
				sb.WriteString(stringify(meta.Default))
				continue
			}
			missing = append(missing, name)
			continue
		}
		sb.WriteByte(template[i])
		i++
	}

	return sb.String(), missing
}

// stringify renders a collected value the way a human would type it:
// integral floats lose the trailing ".0" that JSON decoding introduces.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}
