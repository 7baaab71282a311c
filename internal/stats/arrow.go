package stats

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Record converts the table to an Arrow record with an op_type column, a
// total column and one int64 column per tag. The caller releases it.
func (t *Table) Record(pool memory.Allocator) arrow.RecordBatch {
	fields := []arrow.Field{
		{Name: "op_type", Type: arrow.BinaryTypes.String},
		{Name: "total", Type: arrow.PrimitiveTypes.Int64},
	}
	for _, tag := range t.Tags {
		fields = append(fields, arrow.Field{Name: tag, Type: arrow.PrimitiveTypes.Int64})
	}
	schema := arrow.NewSchema(fields, nil)

	ops := array.NewStringBuilder(pool)
	defer ops.Release()
	totals := array.NewInt64Builder(pool)
	defer totals.Release()
	tags := make([]*array.Int64Builder, len(t.Tags))
	for i := range tags {
		tags[i] = array.NewInt64Builder(pool)
		defer tags[i].Release()
	}

	for _, r := range t.Rows {
		ops.Append(r.OpType)
		totals.Append(int64(r.Total))
		for i, c := range r.Counts {
			tags[i].Append(int64(c))
		}
	}

	cols := []arrow.Array{ops.NewArray(), totals.NewArray()}
	for _, tb := range tags {
		cols = append(cols, tb.NewArray())
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(schema, cols, int64(len(t.Rows)))
}

// WriteArrow writes the table as a single-record Arrow IPC stream.
func (t *Table) WriteArrow(w io.Writer) error {
	rec := t.Record(memory.NewGoAllocator())
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
