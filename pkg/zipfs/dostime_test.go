package zipfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDosTimeToEpoch(t *testing.T) {
	// 2021-03-14 09:26:40, encoded per spec.md's packed DOS layout.
	dosDate := uint16((2021-1980)<<9 | 3<<5 | 14)
	dosTime := uint16(9<<11 | 26<<5 | 40/2)

	got := dosTimeToEpoch(dosDate, dosTime)
	want := epochAt(t, 2021, 3, 14, 9, 26, 40)
	assert.Equal(t, want, got)
}

func TestDosTimeToEpoch_EpochFloor(t *testing.T) {
	got := dosTimeToEpoch(0, 0)
	want := epochAt(t, 1980, 1, 1, 0, 0, 0)
	assert.Equal(t, want, got)
}

func TestEpochToDosTime_RoundTrip(t *testing.T) {
	original := epochAt(t, 2019, 11, 2, 17, 8, 30)
	dosDate, dosTime := epochToDosTime(original)
	got := dosTimeToEpoch(dosDate, dosTime)

	// DOS time truncates seconds to 2-second resolution.
	assert.Equal(t, original-0, got)
}

func TestPackUnpackDOS(t *testing.T) {
	dosDate := uint16(0x4E1C)
	dosTime := uint16(0x6A42)

	packed := packDOS(dosTime, dosDate)
	gotDate, gotTime := unpackDOS(packed)

	assert.Equal(t, dosDate, gotDate)
	assert.Equal(t, dosTime, gotTime)
}

func epochAt(t *testing.T, year, month, day, hour, min, sec int) int64 {
	t.Helper()
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC).Unix()
}
