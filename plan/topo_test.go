package plan

import (
	"reflect"
	"testing"
)

func TestTopoOrder_TieBreakAscending(t *testing.T) {
	order, dropped := topoOrder(map[string][]string{
		"c": {}, "a": {}, "b": {},
	})
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Errorf("order = %v, want [a b c]", order)
	}
	if dropped != nil {
		t.Errorf("dropped = %v, want none", dropped)
	}
}

func TestTopoOrder_RespectsDependencies(t *testing.T) {
	order, _ := topoOrder(map[string][]string{
		"sq1": {},
		"sq2": {"sq1"},
		"sq3": {"sq1", "sq2"},
	})
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["sq1"] > pos["sq2"] || pos["sq2"] > pos["sq3"] {
		t.Errorf("order %v violates dependencies", order)
	}
}

func TestTopoOrder_DropsCycles(t *testing.T) {
	order, dropped := topoOrder(map[string][]string{
		"sq1": {"sq2"},
		"sq2": {"sq1"},
		"sq3": {},
		"sq4": {"sq3"},
	})
	if !reflect.DeepEqual(order, []string{"sq3", "sq4"}) {
		t.Errorf("order = %v, want [sq3 sq4]", order)
	}
	if !reflect.DeepEqual(dropped, []string{"sq1", "sq2"}) {
		t.Errorf("dropped = %v, want [sq1 sq2]", dropped)
	}
}

func TestTopoOrder_SelfDependency(t *testing.T) {
	order, dropped := topoOrder(map[string][]string{
		"sq1": {"sq1"},
		"sq2": {},
	})
	if !reflect.DeepEqual(order, []string{"sq2"}) {
		t.Errorf("order = %v, want [sq2]", order)
	}
	if !reflect.DeepEqual(dropped, []string{"sq1"}) {
		t.Errorf("dropped = %v, want [sq1]", dropped)
	}
}

func TestTopoOrder_IgnoresUnknownDependencyIDs(t *testing.T) {
	order, dropped := topoOrder(map[string][]string{
		"sq1": {"missing"},
	})
	if !reflect.DeepEqual(order, []string{"sq1"}) {
		t.Errorf("order = %v, want [sq1]", order)
	}
	if dropped != nil {
		t.Errorf("dropped = %v, want none", dropped)
	}
}
