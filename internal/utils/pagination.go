package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	MaxPageLimit = 100
	// MaxPage keeps (page-1)*limit far from int overflow.
	MaxPage = 1_000_000
)

// Pagination carries the list query parameters shared by every list endpoint:
// limit, page, all, sort_by, sort_dir.
type Pagination struct {
	Page    int
	Limit   int
	All     bool
	SortCol string
	SortDir string
}

// ParsePagination reads paging and sorting from the query string. sortable maps
// accepted sort_by values to column names; unknown values fall back to defaultSort.
func ParsePagination(c *gin.Context, defaultLimit int, sortable map[string]string, defaultSort string) Pagination {
	p := Pagination{Page: 1, Limit: defaultLimit}
	p.All = strings.EqualFold(c.Query("all"), "true") || c.Query("all") == "1"
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Page = n
		}
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	p.SortDir = strings.ToUpper(c.DefaultQuery("sort_dir", "DESC"))
	if p.SortDir != "ASC" && p.SortDir != "DESC" {
		p.SortDir = "DESC"
	}
	col, ok := sortable[strings.ToLower(c.DefaultQuery("sort_by", defaultSort))]
	if !ok {
		col = sortable[defaultSort]
	}
	p.SortCol = col
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

func (p Pagination) Order() string {
	return fmt.Sprintf("%s %s", p.SortCol, p.SortDir)
}

// TotalPages is the number of pages needed for total rows; zero rows is zero pages.
func (p Pagination) TotalPages(total int64) int {
	if p.All {
		if total > 0 {
			return 1
		}
		return 0
	}
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}

// Meta builds the "meta" object returned alongside list data.
func (p Pagination) Meta(total int64) gin.H {
	meta := gin.H{"total": total, "all": p.All}
	pages := p.TotalPages(total)
	if !p.All {
		meta["limit"] = p.Limit
		meta["page"] = p.Page
		meta["total_pages"] = pages
		meta["has_next"] = p.Page < pages
		meta["has_prev"] = p.Page > 1
	}
	meta["sort_by"] = p.SortCol
	meta["sort_dir"] = p.SortDir
	return meta
}
