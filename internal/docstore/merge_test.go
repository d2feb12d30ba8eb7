package docstore

import (
	"reflect"
	"testing"
)

func TestMergeRecursesIntoMaps(t *testing.T) {
	dst := map[string]any{
		"config": map[string]any{"edition": "2014", "strict": true},
		"hostId": "u1",
	}
	src := map[string]any{
		"config": map[string]any{"strict": false},
	}

	got := Merge(dst, src)

	want := map[string]any{
		"config": map[string]any{"edition": "2014", "strict": false},
		"hostId": "u1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMergeExplicitNullReplaces(t *testing.T) {
	dst := map[string]any{"view": map[string]any{"zoom": 1.5}}
	src := map[string]any{"view": nil}

	got := Merge(dst, src)

	if v, present := got["view"]; !present || v != nil {
		t.Fatalf("expected explicit null view, got %v", got["view"])
	}
}

func TestMergeLeavesAbsentFieldsUntouched(t *testing.T) {
	dst := map[string]any{"hostId": "u1", "bannedUsers": []any{"u9"}}
	src := map[string]any{"hostId": "u1"}

	got := Merge(dst, src)

	if !reflect.DeepEqual(got["bannedUsers"], []any{"u9"}) {
		t.Fatalf("expected bannedUsers untouched, got %v", got["bannedUsers"])
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	dst := map[string]any{"config": map[string]any{"edition": "2014"}}
	src := map[string]any{"config": map[string]any{"strict": true}}

	Merge(dst, src)

	if _, leaked := dst["config"].(map[string]any)["strict"]; leaked {
		t.Fatal("merge mutated dst")
	}
}

func TestApplyUpdateArrayUnion(t *testing.T) {
	dst := map[string]any{"dmIds": []any{"u1"}}

	got := ApplyUpdate(dst, map[string]any{"dmIds": ArrayUnion("u2", "u1")})

	if !reflect.DeepEqual(got["dmIds"], []any{"u1", "u2"}) {
		t.Fatalf("expected union [u1 u2], got %v", got["dmIds"])
	}
}

func TestApplyUpdateArrayUnionOnMissingField(t *testing.T) {
	got := ApplyUpdate(map[string]any{}, map[string]any{"bannedUsers": ArrayUnion("u3")})

	if !reflect.DeepEqual(got["bannedUsers"], []any{"u3"}) {
		t.Fatalf("expected [u3], got %v", got["bannedUsers"])
	}
}

func TestApplyUpdateArrayRemove(t *testing.T) {
	dst := map[string]any{"bannedUsers": []any{"u1", "u2", "u1"}}

	got := ApplyUpdate(dst, map[string]any{"bannedUsers": ArrayRemove("u1")})

	if !reflect.DeepEqual(got["bannedUsers"], []any{"u2"}) {
		t.Fatalf("expected [u2], got %v", got["bannedUsers"])
	}
}

func TestApplyUpdateNumericEqualityAcrossTypes(t *testing.T) {
	dst := map[string]any{"ids": []any{float64(7)}}

	got := ApplyUpdate(dst, map[string]any{"ids": ArrayUnion(7)})

	if !reflect.DeepEqual(got["ids"], []any{float64(7)}) {
		t.Fatalf("expected no duplicate for numerically equal value, got %v", got["ids"])
	}
}

func TestApplyUpdateNestedMap(t *testing.T) {
	dst := map[string]any{"assignments": map[string]any{"u1": "p1"}}

	got := ApplyUpdate(dst, map[string]any{"assignments": map[string]any{"u2": "p2"}})

	want := map[string]any{"u1": "p1", "u2": "p2"}
	if !reflect.DeepEqual(got["assignments"], want) {
		t.Fatalf("expected %v, got %v", want, got["assignments"])
	}
}
