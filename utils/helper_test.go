package utils

import (
	"reflect"
	"testing"
)

func TestEnvIntOrDefault(t *testing.T) {
	t.Setenv("N_SET", "12")
	t.Setenv("N_JUNK", "twelve")

	if got := EnvIntOrDefault("N_SET", 8); got != 12 {
		t.Errorf("set = %d", got)
	}
	if got := EnvIntOrDefault("N_JUNK", 8); got != 8 {
		t.Errorf("junk = %d", got)
	}
	if got := EnvIntOrDefault("N_MISSING", 8); got != 8 {
		t.Errorf("missing = %d", got)
	}
}

func TestEnvBoolDefault(t *testing.T) {
	t.Setenv("B_ON", "Yes")
	t.Setenv("B_OFF", "0")
	t.Setenv("B_JUNK", "maybe")

	if !EnvBoolDefault("B_ON", false) {
		t.Error("yes should be true")
	}
	if EnvBoolDefault("B_OFF", true) {
		t.Error("0 should be false")
	}
	if !EnvBoolDefault("B_JUNK", true) {
		t.Error("unparseable value should keep the default")
	}
	if EnvBoolDefault("B_MISSING", false) {
		t.Error("missing value should keep the default")
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"Abidjan", "Bouaké", "Abidjan", "Daloa", "Bouaké"})
	want := []string{"Abidjan", "Bouaké", "Daloa"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueSlice = %v", got)
	}
}
