// Package testutil holds the assertion helpers shared by package tests.
// Assert* helpers report and continue; Require* helpers stop the test.
package testutil

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func AssertEqual(t testing.TB, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("Not equal:\nexpected: %v\nactual  : %v%s", expected, actual, message(msgAndArgs))
	}
}

func AssertNotEqual(t testing.TB, unexpected, actual any, msgAndArgs ...any) {
	t.Helper()
	if reflect.DeepEqual(unexpected, actual) {
		t.Errorf("Expected values to differ, both are: %v%s", actual, message(msgAndArgs))
	}
}

func AssertTrue(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if !condition {
		t.Errorf("Expected condition to be true%s", message(msgAndArgs))
	}
}

func AssertFalse(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if condition {
		t.Errorf("Expected condition to be false%s", message(msgAndArgs))
	}
}

func AssertLessThanEqual(t testing.TB, a, b uint64, msgAndArgs ...any) {
	t.Helper()
	if a > b {
		t.Errorf("Expected %d <= %d%s", a, b, message(msgAndArgs))
	}
}

func AssertNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Errorf("Unexpected error: %v%s", err, message(msgAndArgs))
	}
}

func AssertError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected an error but got nil%s", message(msgAndArgs))
	}
}

func AssertErrorIs(t testing.TB, err, target error, msgAndArgs ...any) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("Expected error matching %v, got %v%s", target, err, message(msgAndArgs))
	}
}

// AssertLen checks the length of a slice, map, string, array or channel.
// A nil object has length zero.
func AssertLen(t testing.TB, object any, length int, msgAndArgs ...any) {
	t.Helper()
	if got := lengthOf(object); got != length {
		t.Errorf("Length not equal:\nexpected: %d\nactual  : %d%s", length, got, message(msgAndArgs))
	}
}

func AssertEmpty(t testing.TB, object any, msgAndArgs ...any) {
	t.Helper()
	if got := lengthOf(object); got != 0 {
		t.Errorf("Expected empty, got length %d: %v%s", got, object, message(msgAndArgs))
	}
}

func AssertNotNil(t testing.TB, object any, msgAndArgs ...any) {
	t.Helper()
	if isNil(object) {
		t.Errorf("Expected a non-nil value%s", message(msgAndArgs))
	}
}

func AssertContains(t testing.TB, s, substr string, msgAndArgs ...any) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("Expected %q to contain %q%s", s, substr, message(msgAndArgs))
	}
}

func lengthOf(object any) int {
	if object == nil {
		return 0
	}
	return reflect.ValueOf(object).Len()
}

// isNil also reports typed nils such as (*T)(nil) held in an interface.
func isNil(object any) bool {
	if object == nil {
		return true
	}
	v := reflect.ValueOf(object)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// message renders optional trailing arguments. A leading string with more
// arguments is treated as a format.
func message(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return ""
	case len(msgAndArgs) == 1:
		return fmt.Sprintf("\nmessage: %v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return "\nmessage: " + fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf("\nmessage: %v", msgAndArgs)
}
