package source

import (
	"database/sql"

	"github.com/saadactin/Nitin-sir/internal/schema"
)

// RowIterator pulls rows from an open cursor in fixed-size batches.
// Values are already normalized for the PostgreSQL side.
type RowIterator struct {
	rows      *sql.Rows
	cols      []string
	types     []string
	batchSize int
	done      bool
}

func newRowIterator(rows *sql.Rows, cols []schema.Column, batchSize int) *RowIterator {
	names := make([]string, len(cols))
	types := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		types[i] = c.DataType
	}
	return &RowIterator{rows: rows, cols: names, types: types, batchSize: batchSize}
}

// Columns returns the column names in select order.
func (it *RowIterator) Columns() []string {
	return it.cols
}

// Next returns the next batch of rows, at most batchSize long. It returns
// nil once the cursor is exhausted.
func (it *RowIterator) Next() ([][]any, error) {
	if it.done {
		return nil, nil
	}

	numCols := len(it.cols)
	batch := make([][]any, 0, it.batchSize)
	ptrs := make([]any, numCols)

	for len(batch) < it.batchSize && it.rows.Next() {
		row := make([]any, numCols)
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := it.rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, val := range row {
			row[i] = processValue(val, it.types[i])
		}
		batch = append(batch, row)
	}

	if len(batch) < it.batchSize {
		it.done = true
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		it.rows.Close()
	}

	if len(batch) == 0 {
		return nil, nil
	}
	return batch, nil
}

// Close releases the underlying cursor.
func (it *RowIterator) Close() error {
	return it.rows.Close()
}
