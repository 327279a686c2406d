package config

import (
	"reflect"
	"testing"
)

func TestProfilesResolveAndValidate(t *testing.T) {
	for _, name := range ListProfiles() {
		spec, err := Profile(name)
		if err != nil {
			t.Fatalf("Profile(%s): %v", name, err)
		}
		if err := spec.Validate(); err != nil {
			t.Fatalf("profile %s invalid: %v", name, err)
		}
	}
}

func TestListProfiles(t *testing.T) {
	want := []string{"diverse", "quick", "thorough"}
	if got := ListProfiles(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ListProfiles() = %v, want %v", got, want)
	}
}

func TestProfileShapes(t *testing.T) {
	quick, _ := Profile("quick")
	thorough, _ := Profile("thorough")
	diverse, _ := Profile("diverse")

	if quick.PopulationSize >= thorough.PopulationSize {
		t.Fatalf("quick population %d should be below thorough %d", quick.PopulationSize, thorough.PopulationSize)
	}
	if quick.Storage.Kind != "memory" || quick.Cache.URI != "memory" {
		t.Fatalf("quick profile should stay in memory: %+v %+v", quick.Storage, quick.Cache)
	}
	if thorough.Storage.Kind != "sqlite" || thorough.Cache.URI == "memory" {
		t.Fatalf("thorough profile should persist: %+v %+v", thorough.Storage, thorough.Cache)
	}
	if diverse.Selection.Strategy != "rank" {
		t.Fatalf("diverse profile selection = %q, want rank", diverse.Selection.Strategy)
	}
	if diverse.Operators.CrossoverRate <= quick.Operators.CrossoverRate {
		t.Fatalf("diverse crossover %g should exceed quick %g", diverse.Operators.CrossoverRate, quick.Operators.CrossoverRate)
	}
}

func TestProfileUnknown(t *testing.T) {
	if _, err := Profile("exhaustive"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}
