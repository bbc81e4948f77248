package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Page: 1, PerPage: DefaultPerPage}},
		{"?page=3&per_page=10", Params{Page: 3, PerPage: 10}},
		{"?page=-1&per_page=500", Params{Page: 1, PerPage: MaxPerPage}},
		{"?page=x&per_page=y", Params{Page: 1, PerPage: DefaultPerPage}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/integrations"+tt.query, nil)
			assert.Equal(t, tt.want, ParseParams(r))
		})
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page := Slice(items, Params{Page: 2, PerPage: 2})
	assert.Equal(t, []int{3, 4}, page.Results)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 5, page.TotalResults)

	last := Slice(items, Params{Page: 3, PerPage: 2})
	assert.Equal(t, []int{5}, last.Results)

	beyond := Slice(items, Params{Page: 9, PerPage: 2})
	assert.NotNil(t, beyond.Results)
	assert.Empty(t, beyond.Results)

	empty := Slice([]int(nil), Params{Page: 1, PerPage: 20})
	assert.Equal(t, 1, empty.TotalPages)
	assert.NotNil(t, empty.Results)
}
