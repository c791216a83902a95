package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/homestay/internal/models"
)

func TestTypeFor(t *testing.T) {
	tests := []struct {
		status models.BookingStatus
		want   Type
		ok     bool
	}{
		{models.BookingConfirmed, BookingConfirmed, true},
		{models.BookingCheckedIn, BookingCheckedIn, true},
		{models.BookingCancelled, BookingCancelled, true},
		{models.BookingCompleted, BookingCompleted, true},
		{models.BookingPending, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, ok := TypeFor(tt.status)

			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}

	require.NoError(t, r.Publish(t.Context(), Event{ID: "1", Type: BookingConfirmed}))
	require.NoError(t, r.Publish(t.Context(), Event{ID: "2", Type: BookingCancelled}))

	got := r.Events()
	require.Len(t, got, 2)
	require.Equal(t, BookingConfirmed, got[0].Type)
	require.False(t, got[0].OccurredAt.IsZero())

	got[0].ID = "changed"
	require.Equal(t, "1", r.Events()[0].ID, "returned slice is a copy")
}

func TestNoOp(t *testing.T) {
	require.NoError(t, NoOp{}.Publish(t.Context(), Event{Type: BookingConfirmed}))
}
