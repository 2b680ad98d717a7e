package utils

import (
	"encoding/json"
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/featstore/featstore-go/constants"
)

func TestToInt64(t *testing.T) {
	testcases := []struct {
		value  interface{}
		expect int64
	}{
		{int(7), 7},
		{int32(-3), -3},
		{int64(1 << 40), 1 << 40},
		{uint8(200), 200},
		{float64(12), 12},
		{json.Number("42"), 42},
		{"1001", 1001},
		{true, 1},
		{false, 0},
		{"not a number", -1},
		{nil, -1},
	}
	for _, tcase := range testcases {
		assert.Equal(t, tcase.expect, ToInt64(tcase.value, -1))
	}
}

func TestToFloat64(t *testing.T) {
	testcases := []struct {
		value  interface{}
		expect float64
	}{
		{float64(2.5), 2.5},
		{float32(0.5), 0.5},
		{int(4), 4},
		{json.Number("3.25"), 3.25},
		{"6.75", 6.75},
		{"junk", -1},
	}
	for _, tcase := range testcases {
		assert.Equal(t, tcase.expect, ToFloat64(tcase.value, -1))
	}
}

func TestToString(t *testing.T) {
	assert.Equal(t, "abc", ToString("abc", ""))
	assert.Equal(t, "abc", ToString([]byte("abc"), ""))
	assert.Equal(t, "42", ToString(int64(42), ""))
	assert.Equal(t, "true", ToString(true, ""))
	assert.Equal(t, "fallback", ToString(struct{}{}, "fallback"))
}

func TestToBool(t *testing.T) {
	assert.Equal(t, true, ToBool(true, false))
	assert.Equal(t, true, ToBool("true", false))
	assert.Equal(t, true, ToBool(int64(1), false))
	assert.Equal(t, false, ToBool(int64(0), true))
	assert.Equal(t, false, ToBool("junk", false))
}

func TestToTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, want, ToTime(want, time.Time{}))
	assert.Equal(t, want, ToTime("2024-05-01T12:30:00Z", time.Time{}).UTC())
	assert.Equal(t, want, ToTime("2024-05-01 12:30:00", time.Time{}))
	assert.Equal(t, want, ToTime(want.Unix(), time.Time{}))

	day := ToTime("2024-05-01", time.Time{})
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), day)

	if !ToTime("not a time", time.Time{}).IsZero() {
		t.Fatal("expected zero time for unparseable input")
	}
	if !ToTime(nil, time.Time{}).IsZero() {
		t.Fatal("expected zero time for nil input")
	}
}

func TestCoerceValue(t *testing.T) {
	testcases := []struct {
		value   interface{}
		ftype   constants.FSType
		expect  interface{}
		wantErr bool
	}{
		{int(30), constants.FS_INT64, int64(30), false},
		{"30", constants.FS_INT64, int64(30), false},
		{float64(30), constants.FS_INT64, int64(30), false},
		{float64(30.5), constants.FS_INT64, nil, true},
		{"abc", constants.FS_INT64, nil, true},

		{float32(0.5), constants.FS_DOUBLE, float64(0.5), false},
		{int64(2), constants.FS_DOUBLE, float64(2), false},
		{"x", constants.FS_DOUBLE, nil, true},

		{"hello", constants.FS_STRING, "hello", false},
		{[]byte("hello"), constants.FS_STRING, "hello", false},
		{int64(5), constants.FS_STRING, nil, true},

		{true, constants.FS_BOOLEAN, true, false},
		{"false", constants.FS_BOOLEAN, false, false},
		{int64(1), constants.FS_BOOLEAN, true, false},
		{int64(7), constants.FS_BOOLEAN, nil, true},

		{nil, constants.FS_STRING, nil, false},
	}
	for _, tcase := range testcases {
		got, err := CoerceValue(tcase.value, tcase.ftype)
		if tcase.wantErr {
			if err == nil {
				t.Fatalf("expected error coercing %v to %s, got %v", tcase.value, tcase.ftype, got)
			}
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tcase.expect, got)
	}
}

func TestCoerceValueTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	got, err := CoerceValue("2024-05-01T12:30:00Z", constants.FS_TIMESTAMP)
	assert.NoError(t, err)
	assert.Equal(t, want, got.(time.Time).UTC())

	_, err = CoerceValue("never", constants.FS_TIMESTAMP)
	if err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestCanonicalKey(t *testing.T) {
	// equal tuples render identically regardless of arrival width
	assert.Equal(t, CanonicalKey(int32(7), "a"), CanonicalKey(int64(7), "a"))

	// quoting keeps differently shaped tuples apart
	if CanonicalKey("a", "b|c") == CanonicalKey("a|b", "c") {
		t.Fatal("canonical keys collided across tuple shapes")
	}
	if CanonicalKey("7") == CanonicalKey(int64(7)) {
		t.Fatal("string and integer keys must not collide")
	}

	ts := time.Unix(100, 0).UTC()
	assert.Equal(t, CanonicalKey(ts), CanonicalKey(ts.Local()))
	assert.Equal(t, "<nil>", CanonicalKey(nil))
}
