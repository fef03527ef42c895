// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"fmt"
	"sort"
	"sync"
)

const float64size = 8

// freeRange is a run of unallocated float64 cells in the arena,
// [offset, offset+length).
type freeRange struct {
	offset, length int
}

// Workspace is a byte arena shared by everything that runs inside one
// process: it issues named, typed matrix views with byte-exact
// accounting. Alloc, Free, Merge, Resize, and UnallocatedSize are
// mutually consistent under concurrent callers, and the sum of view
// sizes plus unallocated bytes always equals the arena capacity.
type Workspace struct {
	mu       sync.Mutex
	buf      []float64
	capacity int // cells, i.e. capacity*float64size bytes
	views    map[string]*View
	free     []freeRange
}

// NewWorkspace allocates an arena with room for capacityBytes bytes.
func NewWorkspace(capacityBytes int64) *Workspace {
	cells := int(capacityBytes / float64size)
	return &Workspace{
		buf:      make([]float64, cells),
		capacity: cells,
		views:    map[string]*View{},
		free:     []freeRange{{offset: 0, length: cells}},
	}
}

// UnallocatedSize returns the number of bytes not currently held by any
// named view.
func (w *Workspace) UnallocatedSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unallocatedCellsLocked() * float64size
}

func (w *Workspace) unallocatedCellsLocked() int64 {
	var n int64
	for _, f := range w.free {
		n += int64(f.length)
	}
	return n
}

// Capacity returns the total arena size in bytes.
func (w *Workspace) Capacity() int64 {
	return int64(w.capacity) * float64size
}

// View is a typed (S, V) matrix view backed by a named allocation in a
// Workspace. Transpose is an O(1) relabeling of axes; resize is a
// reinterpretation of the logical shape that must stay within the
// physical allocation recorded at Alloc time. Neither operation moves
// a single byte.
type View struct {
	ws         *Workspace
	name       string
	offset     int // cell offset into ws.buf
	allocRows  int // physical shape, fixed for the life of the allocation
	allocCols  int
	rows, cols int // current logical shape
	transposed bool
}

// Name returns the view's identifier in the workspace.
func (v *View) Name() string { return v.name }

// Rows returns the current logical row count.
func (v *View) Rows() int { return v.rows }

// Cols returns the current logical column count.
func (v *View) Cols() int { return v.cols }

// physicalIndex maps a logical (i, j) coordinate to a cell offset in
// ws.buf, honoring the transpose flag.
func (v *View) physicalIndex(i, j int) int {
	if v.transposed {
		return v.offset + j*v.allocCols + i
	}
	return v.offset + i*v.allocCols + j
}

// At returns the value at logical row i, column j.
func (v *View) At(i, j int) float64 {
	return v.ws.buf[v.physicalIndex(i, j)]
}

// Set stores value at logical row i, column j.
func (v *View) Set(i, j int, value float64) {
	v.ws.buf[v.physicalIndex(i, j)] = value
}

// Row copies logical row i into dst (or a freshly allocated slice if
// dst is too short) and returns it. Rows are not always contiguous in
// the backing arena (a transposed view's rows are strided), so this is
// the portable way for numeric code to work one row at a time.
func (v *View) Row(i int, dst []float64) []float64 {
	if cap(dst) < v.cols {
		dst = make([]float64, v.cols)
	}
	dst = dst[:v.cols]
	if !v.transposed {
		copy(dst, v.ws.buf[v.offset+i*v.allocCols:v.offset+i*v.allocCols+v.cols])
		return dst
	}
	for j := 0; j < v.cols; j++ {
		dst[j] = v.At(i, j)
	}
	return dst
}

// SetRow writes src back into logical row i.
func (v *View) SetRow(i int, src []float64) {
	if !v.transposed {
		copy(v.ws.buf[v.offset+i*v.allocCols:v.offset+i*v.allocCols+v.cols], src)
		return
	}
	for j, x := range src {
		v.Set(i, j, x)
	}
}

// Transpose swaps the view's logical shape in place. The underlying
// allocation is untouched.
func (v *View) Transpose() {
	v.transposed = !v.transposed
	v.rows, v.cols = v.cols, v.rows
}

// Resize reinterprets the view's logical shape. It never moves data
// and never grows the view past the bounds fixed when it was
// allocated (in the view's current transpose orientation).
func (v *View) Resize(rows, cols int) error {
	maxRows, maxCols := v.allocRows, v.allocCols
	if v.transposed {
		maxRows, maxCols = v.allocCols, v.allocRows
	}
	if rows > maxRows || cols > maxCols {
		return fmt.Errorf("tri: resize(%d,%d) exceeds original allocation (%d,%d) for %q", rows, cols, maxRows, maxCols, v.name)
	}
	v.rows, v.cols = rows, cols
	return nil
}

// Alloc reserves a new (rows, cols) view under name. Names are unique;
// allocating an existing name is an error.
func (w *Workspace) Alloc(name string, rows, cols int) (*View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.views[name]; exists {
		return nil, fmt.Errorf("tri: view %q already allocated", name)
	}
	need := rows * cols
	offset, ok := w.takeFreeLocked(need)
	if !ok {
		return nil, &InsufficientSpaceError{
			Available: w.unallocatedCellsLocked() * float64size,
			Needed:    int64(need) * float64size,
		}
	}
	v := &View{
		ws:        w,
		name:      name,
		offset:    offset,
		allocRows: rows,
		allocCols: cols,
		rows:      rows,
		cols:      cols,
	}
	w.views[name] = v
	return v, nil
}

// takeFreeLocked finds a first-fit free range of at least need cells,
// splits it, and returns its offset.
func (w *Workspace) takeFreeLocked(need int) (int, bool) {
	for i, f := range w.free {
		if f.length < need {
			continue
		}
		offset := f.offset
		if f.length == need {
			w.free = append(w.free[:i], w.free[i+1:]...)
		} else {
			w.free[i] = freeRange{offset: f.offset + need, length: f.length - need}
		}
		return offset, true
	}
	return 0, false
}

// Free releases the named view and returns its bytes to the free list.
func (w *Workspace) Free(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.freeLocked(name)
}

func (w *Workspace) freeLocked(name string) error {
	v, ok := w.views[name]
	if !ok {
		return fmt.Errorf("tri: no such view %q", name)
	}
	delete(w.views, name)
	w.free = append(w.free, freeRange{offset: v.offset, length: v.allocRows * v.allocCols})
	sort.Slice(w.free, func(i, j int) bool { return w.free[i].offset < w.free[j].offset })
	coalesced := w.free[:0]
	for _, f := range w.free {
		if n := len(coalesced); n > 0 && coalesced[n-1].offset+coalesced[n-1].length == f.offset {
			coalesced[n-1].length += f.length
		} else {
			coalesced = append(coalesced, f)
		}
	}
	w.free = coalesced
	return nil
}

// Merge concatenates the named views column-wise into a new view
// (under a generated name) and frees the inputs. All inputs must share
// the same logical row count. The inputs' contents are copied into a
// scratch buffer outside the arena, their names freed, and only then
// is the destination allocated, so the merge reuses the inputs'
// backing bytes and never needs room for both old and new views at
// the same time.
func (w *Workspace) Merge(names ...string) (*View, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("tri: merge requires at least one view")
	}
	w.mu.Lock()
	sources := make([]*View, len(names))
	for i, name := range names {
		v, ok := w.views[name]
		if !ok {
			w.mu.Unlock()
			return nil, fmt.Errorf("tri: no such view %q", name)
		}
		sources[i] = v
	}
	rows := sources[0].rows
	totalCols := 0
	for _, v := range sources {
		if v.rows != rows {
			w.mu.Unlock()
			return nil, fmt.Errorf("tri: merge requires matching row counts, got %d and %d", rows, v.rows)
		}
		totalCols += v.cols
	}
	w.mu.Unlock()

	scratch := make([]float64, rows*totalCols)
	col := 0
	row := make([]float64, 0)
	for _, src := range sources {
		for i := 0; i < rows; i++ {
			row = src.Row(i, row)
			copy(scratch[i*totalCols+col:i*totalCols+col+src.cols], row)
		}
		col += src.cols
	}

	w.mu.Lock()
	for _, name := range names {
		if err := w.freeLocked(name); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	need := rows * totalCols
	offset, ok := w.takeFreeLocked(need)
	if !ok {
		w.mu.Unlock()
		return nil, &InsufficientSpaceError{
			Available: w.unallocatedCellsLocked() * float64size,
			Needed:    int64(need) * float64size,
		}
	}
	mergeName := mergeName(names)
	dst := &View{
		ws:        w,
		name:      mergeName,
		offset:    offset,
		allocRows: rows,
		allocCols: totalCols,
		rows:      rows,
		cols:      totalCols,
	}
	copy(w.buf[offset:offset+need], scratch)
	w.views[mergeName] = dst
	w.mu.Unlock()
	return dst, nil
}

func mergeName(names []string) string {
	s := "merge"
	for _, n := range names {
		s += "+" + n
	}
	return s
}
