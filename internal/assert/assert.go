// Package assert provides small test helpers in the style of testify,
// without the dependency.
package assert

import (
	"reflect"
	"testing"
)

// That fails the test if ok is false.
func That(t testing.TB, ok bool) {
	t.Helper()
	if !ok {
		t.Fatal("assertion failed")
	}
}

// Equal fails the test if got and want are not deeply equal.
func Equal(t testing.TB, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v; want %v", got, want)
	}
}

// NoError fails the test if err is non-nil.
func NoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
