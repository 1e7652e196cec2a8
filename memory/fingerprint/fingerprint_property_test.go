package fingerprint

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFingerprintStabilityProperty verifies Property P1 (fingerprint
// stability): tool_key(action) = tool_key(normalize(action)), and
// reordering files or mapping insertion order does not change tool_key.
func TestFingerprintStabilityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tool_key is stable under file reordering and normalization", prop.ForAll(
		func(filePath string, files []string) bool {
			direct := Action{"file_path": filePath}
			normalized := Normalize(direct)
			if ToolKey("read_file_contents", direct) != ToolKey("read_file_contents", normalized) {
				return false
			}

			anyFiles := stringsToAny(files)
			reversed := make([]any, len(files))
			for i, f := range anyFiles {
				reversed[len(files)-1-i] = f
			}

			k1 := ToolKey("modify_code", Action{"files": anyFiles})
			k2 := ToolKey("modify_code", Action{"files": reversed})
			return k1 == k2
		},
		genNonEmptyAlphaString(),
		gen.SliceOf(genNonEmptyAlphaString()),
	))

	properties.TestingRun(t)
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func genNonEmptyAlphaString() gopter.Gen {
	return gen.IntRange(1, 20).FlatMap(func(length any) gopter.Gen {
		return gen.SliceOfN(length.(int), gen.AlphaChar()).Map(func(chars []rune) string {
			return string(chars)
		})
	}, reflect.TypeOf(""))
}
