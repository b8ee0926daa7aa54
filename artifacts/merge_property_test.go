package artifacts

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genRefs() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 9).Map(func(i int) Ref {
		return Ref{
			ArtifactID:  fmt.Sprintf("art-%d", i),
			StoragePath: fmt.Sprintf("uploads/%d", i),
		}
	}))
}

func TestMergeRefsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merge is idempotent", prop.ForAll(
		func(existing, news []Ref) bool {
			once := MergeRefs(existing, news)
			twice := MergeRefs(once, news)
			return reflect.DeepEqual(once, twice)
		},
		genRefs(),
		genRefs(),
	))

	properties.Property("no duplicate artifact ids", prop.ForAll(
		func(existing, news []Ref) bool {
			seen := make(map[string]bool)
			for _, ref := range MergeRefs(existing, news) {
				if seen[ref.ArtifactID] {
					return false
				}
				seen[ref.ArtifactID] = true
			}
			return true
		},
		genRefs(),
		genRefs(),
	))

	properties.Property("new entries win and none are lost", prop.ForAll(
		func(existing, news []Ref) bool {
			merged := MergeRefs(existing, news)
			byID := make(map[string]Ref, len(merged))
			for _, ref := range merged {
				byID[ref.ArtifactID] = ref
			}
			for _, ref := range news {
				if byID[ref.ArtifactID] != ref {
					return false
				}
			}
			return true
		},
		genRefs(),
		genRefs(),
	))

	properties.TestingRun(t)
}
