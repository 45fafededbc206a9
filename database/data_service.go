package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// ColumnType is the inferred storage type of a dataset column.
type ColumnType string

const (
	ColumnInteger ColumnType = "integer"
	ColumnReal    ColumnType = "real"
	ColumnText    ColumnType = "text"
)

// Column describes one column of a registered dataset.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// ColumnStats holds per-column summary statistics computed at registration.
type ColumnStats struct {
	NullCount   int           `json:"null_count"`
	UniqueCount int           `json:"unique_count"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Mean        *float64      `json:"mean,omitempty"`
	Samples     []interface{} `json:"samples,omitempty"`
}

// Dataset is the full description of a registered dataset.
type Dataset struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Columns  []Column               `json:"columns"`
	RowCount int                    `json:"row_count"`
	Stats    map[string]ColumnStats `json:"stats"`
}

// ResultTable is the row set produced by a filter or aggregate operation.
type ResultTable struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NotFoundError reports a lookup for a dataset ID that is not registered.
type NotFoundError struct {
	DatasetID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset %q not found", e.DatasetID)
}

// SchemaError reports a reference to a column that does not exist or whose
// type cannot support the requested operation.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return e.Detail
}

// ValidationError reports a structurally invalid request (bad expression
// syntax, unsupported aggregation, malformed rows).
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

const statsSampleLimit = 5

// Aggregations supported by Aggregate.
var supportedAggs = map[string]string{
	"sum":   "SUM",
	"mean":  "AVG",
	"count": "COUNT",
	"min":   "MIN",
	"max":   "MAX",
}

type datasetEntry struct {
	mu      sync.Mutex
	meta    Dataset
	colType map[string]ColumnType
	db      *sql.DB
}

// DataService is the in-process dataset registry. Each registered dataset is
// loaded into its own in-memory SQLite database so that filter and aggregate
// requests compile to parameterized SQL instead of hand-rolled row scans.
type DataService struct {
	mu       sync.RWMutex
	datasets map[string]*datasetEntry
}

// NewDataService creates an empty registry.
func NewDataService() *DataService {
	return &DataService{datasets: make(map[string]*datasetEntry)}
}

// Register loads a dataset into the registry under the given ID, replacing
// any dataset previously registered under that ID. Rows are column-major
// validated: every row must have exactly one value per column.
func (s *DataService) Register(id, name string, columns []string, rows [][]interface{}) (*Dataset, error) {
	if id == "" {
		return nil, &ValidationError{Detail: "dataset id must not be empty"}
	}
	if len(columns) == 0 {
		return nil, &ValidationError{Detail: "dataset must have at least one column"}
	}
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if col == "" {
			return nil, &ValidationError{Detail: "column names must not be empty"}
		}
		if seen[col] {
			return nil, &ValidationError{Detail: fmt.Sprintf("duplicate column name %q", col)}
		}
		seen[col] = true
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, &ValidationError{Detail: fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(columns))}
		}
	}

	normalized := normalizeRows(rows, len(columns))
	types := inferColumnTypes(columns, normalized)

	db, err := openMemoryDB()
	if err != nil {
		return nil, err
	}
	if err := loadTable(db, columns, types, normalized); err != nil {
		db.Close()
		return nil, err
	}

	cols := make([]Column, len(columns))
	colType := make(map[string]ColumnType, len(columns))
	for i, name := range columns {
		cols[i] = Column{Name: name, Type: types[name]}
		colType[name] = types[name]
	}

	entry := &datasetEntry{
		meta: Dataset{
			ID:       id,
			Name:     name,
			Columns:  cols,
			RowCount: len(normalized),
			Stats:    computeStats(columns, types, normalized),
		},
		colType: colType,
		db:      db,
	}

	s.mu.Lock()
	if old, ok := s.datasets[id]; ok {
		old.db.Close()
	}
	s.datasets[id] = entry
	s.mu.Unlock()

	meta := entry.meta
	return &meta, nil
}

// Unregister removes a dataset and releases its backing store.
func (s *DataService) Unregister(id string) error {
	s.mu.Lock()
	entry, ok := s.datasets[id]
	if ok {
		delete(s.datasets, id)
	}
	s.mu.Unlock()
	if !ok {
		return &NotFoundError{DatasetID: id}
	}
	entry.db.Close()
	return nil
}

// List returns the metadata of all registered datasets, sorted by ID.
func (s *DataService) List() []Dataset {
	s.mu.RLock()
	out := make([]Dataset, 0, len(s.datasets))
	for _, entry := range s.datasets {
		out = append(out, entry.meta)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Describe returns the metadata of one dataset. When columns are given the
// result is narrowed to those columns, in the given order.
func (s *DataService) Describe(id string, columns ...string) (*Dataset, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	meta := entry.meta
	if len(columns) == 0 {
		return &meta, nil
	}

	byName := make(map[string]Column, len(meta.Columns))
	for _, c := range meta.Columns {
		byName[c.Name] = c
	}

	narrowed := Dataset{
		ID:       meta.ID,
		Name:     meta.Name,
		RowCount: meta.RowCount,
		Stats:    make(map[string]ColumnStats, len(columns)),
	}
	for _, name := range columns {
		col, ok := byName[name]
		if !ok {
			return nil, &SchemaError{Detail: fmt.Sprintf("unknown column %q", name)}
		}
		narrowed.Columns = append(narrowed.Columns, col)
		narrowed.Stats[name] = meta.Stats[name]
	}
	return &narrowed, nil
}

// Filter evaluates a predicate expression against the dataset and returns
// the matching rows, capped at limit (0 means no cap).
func (s *DataService) Filter(id, expr string, limit int) (*ResultTable, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(expr) == "" {
		return nil, &ValidationError{Detail: "filter expression must not be empty"}
	}

	where, args, err := CompilePredicate(expr, entry.colType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM data WHERE %s", where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return queryTable(entry.db, entry.meta, query, args)
}

// AggregateRequest names one aggregation over a dataset: function applied to
// a column, optionally grouped and optionally pre-filtered.
type AggregateRequest struct {
	DatasetID string
	Column    string
	Func      string // sum, mean, count, min, max
	GroupBy   string // optional
	Filter    string // optional predicate applied before aggregating
}

// Aggregate computes a single aggregation in closed form. The result column
// is named <column>_<func>, e.g. gene_A_mean.
func (s *DataService) Aggregate(req AggregateRequest) (*ResultTable, error) {
	entry, err := s.lookup(req.DatasetID)
	if err != nil {
		return nil, err
	}

	sqlFunc, ok := supportedAggs[req.Func]
	if !ok {
		return nil, &ValidationError{Detail: fmt.Sprintf("unsupported aggregation %q (expected sum, mean, count, min, max)", req.Func)}
	}

	colType, ok := entry.colType[req.Column]
	if !ok {
		return nil, &SchemaError{Detail: fmt.Sprintf("unknown column %q", req.Column)}
	}
	if req.Func != "count" && colType != ColumnInteger && colType != ColumnReal {
		return nil, &SchemaError{Detail: fmt.Sprintf("aggregation %q requires a numeric column, but %q is %s", req.Func, req.Column, colType)}
	}

	resultCol := fmt.Sprintf("%s_%s", req.Column, req.Func)
	var query string
	var args []interface{}

	selectExpr := fmt.Sprintf("%s(%s) AS %s", sqlFunc, quoteIdent(req.Column), quoteIdent(resultCol))

	whereClause := ""
	if strings.TrimSpace(req.Filter) != "" {
		where, whereArgs, err := CompilePredicate(req.Filter, entry.colType)
		if err != nil {
			return nil, err
		}
		whereClause = " WHERE " + where
		args = whereArgs
	}

	if req.GroupBy != "" {
		if _, ok := entry.colType[req.GroupBy]; !ok {
			return nil, &SchemaError{Detail: fmt.Sprintf("unknown group-by column %q", req.GroupBy)}
		}
		query = fmt.Sprintf("SELECT %s, %s FROM data%s GROUP BY %s ORDER BY %s",
			quoteIdent(req.GroupBy), selectExpr, whereClause, quoteIdent(req.GroupBy), quoteIdent(req.GroupBy))
	} else {
		query = fmt.Sprintf("SELECT %s FROM data%s", selectExpr, whereClause)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return queryTable(entry.db, entry.meta, query, args)
}

// Rows returns the full dataset content in column order, for handing to the
// code sandbox. The returned slices are copies.
func (s *DataService) Rows(id string) ([]string, [][]interface{}, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	cols := make([]string, len(entry.meta.Columns))
	for i, c := range entry.meta.Columns {
		cols[i] = c.Name
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	table, err := queryTable(entry.db, entry.meta, "SELECT * FROM data", nil)
	if err != nil {
		return nil, nil, err
	}
	return cols, table.Rows, nil
}

// Close releases every dataset's backing store. The registry is empty
// afterwards and can still accept new registrations.
func (s *DataService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.datasets {
		entry.db.Close()
		delete(s.datasets, id)
	}
}

func (s *DataService) lookup(id string) (*datasetEntry, error) {
	s.mu.RLock()
	entry, ok := s.datasets[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{DatasetID: id}
	}
	return entry, nil
}

// openMemoryDB opens a private in-memory SQLite database. The connection
// pool is pinned to one connection so the memory store is never duplicated.
func openMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func loadTable(db *sql.DB, columns []string, types map[string]ColumnType, rows [][]interface{}) error {
	defs := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		sqlType := "TEXT"
		switch types[col] {
		case ColumnInteger:
			sqlType = "INTEGER"
		case ColumnReal:
			sqlType = "REAL"
		}
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(col), sqlType)
		placeholders[i] = "?"
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE data (%s)", strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create dataset table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin load transaction: %w", err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO data VALUES (%s)", strings.Join(placeholders, ", ")))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	for _, row := range rows {
		if _, err := stmt.Exec(row...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load transaction: %w", err)
	}
	return nil
}

// normalizeRows converts incoming values to SQLite-storable forms. JSON
// numbers arrive as float64; NaN and infinities become NULL so they never
// poison aggregations.
func normalizeRows(rows [][]interface{}, width int) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		norm := make([]interface{}, width)
		for j, v := range row {
			norm[j] = normalizeValue(v)
		}
		out[i] = norm
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		return normalizeValue(float64(val))
	case int:
		return int64(val)
	case int64:
		return val
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case string:
		return val
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return normalizeValue(f)
		}
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// inferColumnTypes picks a storage type per column from the non-null values:
// integer if every value arrived as an integer, real if every value is
// numeric, text otherwise. A float64 value keeps the column real even when
// it happens to be integral, so aggregate results stay floating point.
// All-null columns default to text.
func inferColumnTypes(columns []string, rows [][]interface{}) map[string]ColumnType {
	types := make(map[string]ColumnType, len(columns))
	for j, col := range columns {
		allInt := true
		allNum := true
		sawValue := false
		for _, row := range rows {
			v := row[j]
			if v == nil {
				continue
			}
			sawValue = true
			switch v.(type) {
			case int64:
				// integral
			case float64:
				allInt = false
			default:
				allInt = false
				allNum = false
			}
		}
		switch {
		case !sawValue:
			types[col] = ColumnText
		case allInt:
			types[col] = ColumnInteger
		case allNum:
			types[col] = ColumnReal
		default:
			types[col] = ColumnText
		}
	}
	return types
}

func computeStats(columns []string, types map[string]ColumnType, rows [][]interface{}) map[string]ColumnStats {
	stats := make(map[string]ColumnStats, len(columns))
	for j, col := range columns {
		var st ColumnStats
		unique := make(map[interface{}]bool)
		var sum float64
		var count int
		var min, max float64

		for _, row := range rows {
			v := row[j]
			if v == nil {
				st.NullCount++
				continue
			}
			unique[v] = true
			if len(st.Samples) < statsSampleLimit && !containsValue(st.Samples, v) {
				st.Samples = append(st.Samples, v)
			}
			f, ok := asFloat(v)
			if !ok {
				continue
			}
			if count == 0 || f < min {
				min = f
			}
			if count == 0 || f > max {
				max = f
			}
			sum += f
			count++
		}

		st.UniqueCount = len(unique)
		if count > 0 && (types[col] == ColumnInteger || types[col] == ColumnReal) {
			minV, maxV, meanV := min, max, sum/float64(count)
			st.Min = &minV
			st.Max = &maxV
			st.Mean = &meanV
		}
		stats[col] = st
	}
	return stats
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

func containsValue(values []interface{}, v interface{}) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

func queryTable(db *sql.DB, meta Dataset, query string, args []interface{}) (*ResultTable, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("dataset %q query failed: %w", meta.ID, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dataset %q query failed: %w", meta.ID, err)
	}

	result := &ResultTable{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scanArgs := make([]interface{}, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("dataset %q row scan failed: %w", meta.ID, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dataset %q query failed: %w", meta.ID, err)
	}
	return result, nil
}
