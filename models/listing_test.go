package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewListingRecordDefaults(t *testing.T) {
	r := NewListingRecord()

	assert.Equal(t, TitleNotFound, r.Title)
	assert.Equal(t, PriceNotFound, r.PriceText)
	assert.Equal(t, LocationNotFound, r.LocationText)
	assert.Equal(t, RoomsNotFound, r.RoomsText)
	assert.Equal(t, FloorNotFound, r.FloorText)
	assert.Equal(t, DescriptionNotFound, r.Description)
	assert.Equal(t, ContactNotFound, r.ContactInfo)
	assert.Empty(t, r.DetailLink)
	assert.Empty(t, r.ImageURL)
	assert.False(t, r.MessageSent)
}

func TestSkipReason(t *testing.T) {
	tests := []struct {
		name  string
		link  string
		price string
		want  SkipReason
	}{
		{"eligible", "https://x/1", "5000", SkipNone},
		{"no link", "", "4000", SkipNoLink},
		{"no price", "https://x/3", PriceNotFound, SkipNoPrice},
		{"neither", "", PriceNotFound, SkipNoLink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewListingRecord()
			r.DetailLink = tt.link
			r.PriceText = tt.price
			assert.Equal(t, tt.want, r.SkipReason())
			assert.Equal(t, tt.want == SkipNone, r.Eligible())
		})
	}
}

func TestCategorizeError(t *testing.T) {
	err := CategorizeError(context.DeadlineExceeded, "navigate page 2")
	assert.True(t, IsKind(err, KindNetwork))
	assert.Contains(t, err.Error(), "timed out")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	blocked := NewBlockedError("captcha")
	assert.Same(t, blocked, CategorizeError(blocked, "ignored"))

	wrapped := fmt.Errorf("outer: %w", NewPersistenceError("commit", errors.New("boom")))
	assert.True(t, IsKind(wrapped, KindPersistence))
	assert.False(t, IsKind(wrapped, KindNetwork))

	assert.Nil(t, CategorizeError(nil, "noop"))
}
