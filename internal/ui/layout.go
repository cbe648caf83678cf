package ui

import (
	"math"

	"fyne.io/fyne/v2"
)

// fillGridLayout splits the available space evenly between the visible
// objects. Hidden objects take no cell, so hiding the control panel gives
// the camera view the whole window.
type fillGridLayout struct{}

func (fillGridLayout) MinSize(_ []fyne.CanvasObject) fyne.Size {
	return fyne.NewSize(100, 100)
}

func (fillGridLayout) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	visible := make([]fyne.CanvasObject, 0, len(objects))
	for _, obj := range objects {
		if obj.Visible() {
			visible = append(visible, obj)
		}
	}
	if len(visible) == 0 {
		return
	}

	rows, cols := gridShape(len(visible), size.Width >= size.Height)
	cellWidth := size.Width / float32(cols)
	cellHeight := size.Height / float32(rows)

	for i, obj := range visible {
		row, col := i/cols, i%cols
		obj.Move(fyne.NewPos(float32(col)*cellWidth, float32(row)*cellHeight))
		obj.Resize(fyne.NewSize(cellWidth, cellHeight))
	}
}

// gridShape returns (rows, cols) for n tiles. Two tiles sit side by side
// in a landscape window and stacked in a portrait one.
func gridShape(n int, landscape bool) (rows, cols int) {
	switch {
	case n <= 1:
		return 1, 1
	case n == 2 && landscape:
		return 1, 2
	case n == 2:
		return 2, 1
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return rows, cols
}
