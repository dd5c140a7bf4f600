package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSearchRequest_Normalizes(t *testing.T) {
	req, err := NewSearchRequest(" pcj-8619 ", "  jose   tuquerez ")
	require.NoError(t, err)

	assert.Equal(t, "PCJ8619", req.Plate)
	assert.Equal(t, "JOSE TUQUEREZ", req.DriverName)
}

func TestNewSearchRequest_DoesNotMutateInput(t *testing.T) {
	raw := SearchRequest{Plate: "abc123", DriverName: "maria  lopez"}
	_, err := raw.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "abc123", raw.Plate)
	assert.Equal(t, "maria  lopez", raw.DriverName)
}

func TestNewSearchRequest_InvalidPlate(t *testing.T) {
	tests := []struct {
		name  string
		plate string
	}{
		{"too short", "AB123"},
		{"too long", "ABCD12345"},
		{"symbols", "AB#1234"},
		{"empty", ""},
		{"non ascii", "PÑJ8619"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSearchRequest(tt.plate, "JOSE TUQUEREZ")
			require.Error(t, err)

			var se *SearchError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, ErrCodeInvalidInput, se.Code)
			assert.Equal(t, KindInvalidInput, se.Kind)
		})
	}
}

func TestNewSearchRequest_InvalidName(t *testing.T) {
	_, err := NewSearchRequest("PCJ8619", " J ")
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = NewSearchRequest("PCJ8619", strings.Repeat("A", 101))
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := NewTargetError(KindBlocked, "block page", nil)
	wrapped := errors.Join(errors.New("context"), inner)

	assert.Equal(t, KindBlocked, KindOf(wrapped))
	assert.Equal(t, ErrCodeTarget, CodeOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
}

func TestCaseRecord_Complete(t *testing.T) {
	rec := &CaseRecord{ReportNumber: "1", Location: "X", Date: "2016-01-27", Offense: "Y"}
	assert.True(t, rec.Complete())

	rec.Offense = ""
	assert.False(t, rec.Complete())

	var nilRec *CaseRecord
	assert.False(t, nilRec.Complete())
}
