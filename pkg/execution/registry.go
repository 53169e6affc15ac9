package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
)

// Registry stores materialized result tables for one session so page
// requests are served from memory. Page retrieval is idempotent for
// identical (table_id, page, page_size).
type Registry struct {
	pageSizeDefault int
	pageSizeMax     int

	mu     sync.RWMutex
	tables map[string]*ResultTable
}

// NewRegistry creates a result-table registry with the given paging
// bounds. Non-positive values fall back to 10 and 200.
func NewRegistry(pageSizeDefault, pageSizeMax int) *Registry {
	if pageSizeDefault <= 0 {
		pageSizeDefault = 10
	}
	if pageSizeMax <= 0 {
		pageSizeMax = 200
	}
	return &Registry{
		pageSizeDefault: pageSizeDefault,
		pageSizeMax:     pageSizeMax,
		tables:          make(map[string]*ResultTable),
	}
}

// Store materializes a SELECT result under a fresh table id and
// returns the table.
func (r *Registry) Store(sql string, result *SelectResult, pageSize int) *ResultTable {
	table := &ResultTable{
		TableID:     uuid.NewString(),
		SQL:         sql,
		Columns:     result.Columns,
		Rows:        result.Rows,
		TotalRows:   result.TotalRows,
		PageSize:    r.clampPageSize(pageSize),
		GeneratedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.tables[table.TableID] = table
	r.mu.Unlock()
	return table
}

// Get returns the stored table, or nil.
func (r *Registry) Get(tableID string) *ResultTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[tableID]
}

// GetPage returns one page of a stored table. Pages are 1-indexed;
// requests outside [1, total_pages] fail.
func (r *Registry) GetPage(tableID string, page, pageSize int) (*Page, error) {
	r.mu.RLock()
	table, ok := r.tables[tableID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.KindInvalidPage, "unknown table id %q", tableID)
	}

	if pageSize <= 0 {
		pageSize = table.PageSize
	}
	pageSize = r.clampPageSize(pageSize)

	totalPages := totalPageCount(table.TotalRows, pageSize)
	if page < 1 || page > totalPages {
		return nil, apperrors.New(apperrors.KindInvalidPage,
			fmt.Sprintf("page %d out of range, allowed 1..%d", page, totalPages))
	}

	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize
	if startIdx > table.TotalRows {
		startIdx = table.TotalRows
	}
	if endIdx > table.TotalRows {
		endIdx = table.TotalRows
	}

	return &Page{
		Rows: table.Rows[startIdx:endIdx],
		Pagination: Pagination{
			TableID:     tableID,
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalRows:   table.TotalRows,
			PageSize:    pageSize,
			HasNext:     page < totalPages,
			HasPrev:     page > 1,
		},
	}, nil
}

// FirstPage returns page 1 using the table's stored page size.
func (r *Registry) FirstPage(tableID string) (*Page, error) {
	return r.GetPage(tableID, 1, 0)
}

// Delete removes one table.
func (r *Registry) Delete(tableID string) {
	r.mu.Lock()
	delete(r.tables, tableID)
	r.mu.Unlock()
}

// Clear removes all tables.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tables = make(map[string]*ResultTable)
	r.mu.Unlock()
}

// Len returns the number of stored tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

func (r *Registry) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return r.pageSizeDefault
	}
	if pageSize > r.pageSizeMax {
		return r.pageSizeMax
	}
	return pageSize
}

// totalPageCount returns at least 1 so an empty result still has a
// valid first page.
func totalPageCount(totalRows, pageSize int) int {
	if totalRows == 0 {
		return 1
	}
	return (totalRows + pageSize - 1) / pageSize
}
