package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Params holds skip/limit paging extracted from a request.
type Params struct {
	Skip  int
	Limit int
}

// FromContext reads ?skip= and ?limit= (with ?offset= accepted as an alias
// for skip). Missing or non-positive limits fall back to DefaultLimit and
// limits above MaxLimit are clamped.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	skip, err := strconv.Atoi(c.QueryParam("skip"))
	if err != nil {
		skip, _ = strconv.Atoi(c.QueryParam("offset"))
	}
	if skip < 0 {
		skip = 0
	}

	return Params{Skip: skip, Limit: limit}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Skip    int         `json:"skip"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Skip:    p.Skip,
		Limit:   p.Limit,
		HasMore: p.HasNext(total),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Skip+p.Limit < total
}

// NextSkip returns the skip value of the following page.
func (p Params) NextSkip() int {
	return p.Skip + p.Limit
}
