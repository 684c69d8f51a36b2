package puzzle

import (
	"math/rand"
)

// Grid is a 9x9 sudoku board. 0 marks an empty cell, 1-9 are placed digits.
type Grid [9][9]int

// Difficulty selects how many cells are cleared from a generated solution.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty falls back to Medium for anything it doesn't recognize.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case Easy, Medium, Hard:
		return Difficulty(s)
	}
	return Medium
}

func cellsToRemove(d Difficulty) int {
	switch d {
	case Easy:
		return 30
	case Hard:
		return 50
	default:
		return 40
	}
}

// Generate builds a complete random solution and derives a playable puzzle
// from it by clearing a difficulty-dependent number of cells. The removal
// does not verify that the remaining clues admit a unique solution; the
// race is judged against the returned solution, not against "any" valid
// completion.
func Generate(d Difficulty) (clues, solution Grid) {
	fill(&solution, 0, 0)
	clues = solution
	removeCells(&clues, cellsToRemove(d))
	return clues, solution
}

// fill completes the grid from (row, col) onward by randomized
// backtracking. Cells are visited in row-major order and digits tried in
// a freshly shuffled order at each cell, so repeated calls produce
// different solutions. Always succeeds from an empty grid.
func fill(g *Grid, row, col int) bool {
	if row == 9 {
		return true
	}
	nextRow, nextCol := row, col+1
	if nextCol == 9 {
		nextRow, nextCol = row+1, 0
	}
	if g[row][col] != 0 {
		return fill(g, nextRow, nextCol)
	}

	digits := [9]int{1, 2, 3, 4, 5, 6, 7, 8, 9}
	rand.Shuffle(9, func(i, j int) { digits[i], digits[j] = digits[j], digits[i] })

	for _, v := range digits {
		if conflicts(g, row, col, v) {
			continue
		}
		g[row][col] = v
		if fill(g, nextRow, nextCol) {
			return true
		}
		g[row][col] = 0
	}
	return false
}

// removeCells clears n cells chosen uniformly at random without
// replacement.
func removeCells(g *Grid, n int) {
	positions := make([]int, 81)
	for i := range positions {
		positions[i] = i
	}
	rand.Shuffle(81, func(i, j int) { positions[i], positions[j] = positions[j], positions[i] })

	if n > 81 {
		n = 81
	}
	for _, pos := range positions[:n] {
		g[pos/9][pos%9] = 0
	}
}

// conflicts reports whether value already appears in the row, column or
// 3x3 box of (row, col), including the cell itself.
func conflicts(g *Grid, row, col, value int) bool {
	for i := 0; i < 9; i++ {
		if g[row][i] == value || g[i][col] == value {
			return true
		}
	}
	boxRow, boxCol := (row/3)*3, (col/3)*3
	for r := boxRow; r < boxRow+3; r++ {
		for c := boxCol; c < boxCol+3; c++ {
			if g[r][c] == value {
				return true
			}
		}
	}
	return false
}

// IsPlacementValid reports whether writing value at (row, col) keeps the
// board consistent with sudoku rules. The cell under test is excluded
// from the scan so re-validating an already placed digit succeeds.
func IsPlacementValid(g Grid, row, col, value int) bool {
	if row < 0 || row > 8 || col < 0 || col > 8 {
		return false
	}
	if value < 1 || value > 9 {
		return false
	}
	for c := 0; c < 9; c++ {
		if c != col && g[row][c] == value {
			return false
		}
	}
	for r := 0; r < 9; r++ {
		if r != row && g[r][col] == value {
			return false
		}
	}
	boxRow, boxCol := (row/3)*3, (col/3)*3
	for r := boxRow; r < boxRow+3; r++ {
		for c := boxCol; c < boxCol+3; c++ {
			if (r != row || c != col) && g[r][c] == value {
				return false
			}
		}
	}
	return true
}

// IsCompleteSolution reports whether every row, column and 3x3 box holds
// exactly the digits 1-9. Used when no reference solution is available.
func IsCompleteSolution(g Grid) bool {
	for r := 0; r < 9; r++ {
		var m uint
		for c := 0; c < 9; c++ {
			v := g[r][c]
			if v < 1 || v > 9 || m&(1<<v) != 0 {
				return false
			}
			m |= 1 << v
		}
	}
	for c := 0; c < 9; c++ {
		var m uint
		for r := 0; r < 9; r++ {
			v := g[r][c]
			if m&(1<<v) != 0 {
				return false
			}
			m |= 1 << v
		}
	}
	for boxRow := 0; boxRow < 9; boxRow += 3 {
		for boxCol := 0; boxCol < 9; boxCol += 3 {
			var m uint
			for r := boxRow; r < boxRow+3; r++ {
				for c := boxCol; c < boxCol+3; c++ {
					v := g[r][c]
					if m&(1<<v) != 0 {
						return false
					}
					m |= 1 << v
				}
			}
		}
	}
	return true
}

// MatchesSolution is the authoritative win check: the board must be fully
// filled and equal to the reference solution cell for cell. An exact
// match is required so an alternate valid completion of a non-unique
// puzzle does not count as a win.
func MatchesSolution(board, solution Grid) bool {
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			if board[r][c] == 0 || board[r][c] != solution[r][c] {
				return false
			}
		}
	}
	return true
}

// FilledCells counts the non-empty cells of the grid.
func FilledCells(g Grid) int {
	n := 0
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			if g[r][c] != 0 {
				n++
			}
		}
	}
	return n
}
