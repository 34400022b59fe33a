package room

// Board dimensions and the run length that wins.
const (
	Rows    = 6
	Columns = 7
	ToWin   = 4
)

// Cell values. A player's mark is its index in Room.Players plus one.
const (
	Empty   = 0
	Player1 = 1
	Player2 = 2
)

// Board is the 6x7 grid. Row 0 is the top; pieces fall toward row Rows-1.
type Board [Rows][Columns]int

// axes are the four directions checked by WinsAt: horizontal, vertical,
// diagonal down-right and diagonal up-right.
var axes = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {-1, 1}}

// Drop places mark in the lowest empty cell of col and returns its row.
// ok is false when the column is already full; the board is untouched then.
func (b *Board) Drop(col, mark int) (row int, ok bool) {
	for row = Rows - 1; row >= 0; row-- {
		if b[row][col] == Empty {
			b[row][col] = mark
			return row, true
		}
	}
	return -1, false
}

// WinsAt reports whether the mark at (row, col) is part of a line of at
// least ToWin identical marks. Only lines through that cell are examined,
// so it must run right after the mark is placed.
func (b *Board) WinsAt(row, col int) bool {
	mark := b[row][col]
	if mark == Empty {
		return false
	}
	for _, axis := range axes {
		n := 1 + b.run(row, col, axis[0], axis[1], mark) + b.run(row, col, -axis[0], -axis[1], mark)
		if n >= ToWin {
			return true
		}
	}
	return false
}

// run counts consecutive cells holding mark, starting one step away from
// (row, col) in direction (dr, dc).
func (b *Board) run(row, col, dr, dc, mark int) int {
	n := 0
	for r, c := row+dr, col+dc; inBounds(r, c) && b[r][c] == mark; r, c = r+dr, c+dc {
		n++
	}
	return n
}

// Marks returns the number of occupied cells.
func (b *Board) Marks() int {
	n := 0
	for r := range b {
		for c := range b[r] {
			if b[r][c] != Empty {
				n++
			}
		}
	}
	return n
}

func inBounds(row, col int) bool {
	return row >= 0 && row < Rows && col >= 0 && col < Columns
}
