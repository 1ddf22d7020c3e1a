package model

import (
	"sort"
	"time"
)

// Cell is one participant's standing on one task.
type Cell struct {
	TaskID     int64 `json:"task_id"`
	Attempts   int   `json:"attempts"`
	BestPoints int64 `json:"best_points"`
	Solved     bool  `json:"solved"`
}

// Row is one participant's line on the scoreboard. Cells follow the
// scoreboard's task order.
type Row struct {
	Rank          int       `json:"rank"`
	ParticipantID int64     `json:"participant_id"`
	UserID        int64     `json:"user_id"`
	TasksSolved   int       `json:"tasks_solved"`
	TotalPoints   int64     `json:"total_points"`
	Penalty       int64     `json:"penalty"`
	RegisteredAt  time.Time `json:"registered_at"`
	Cells         []Cell    `json:"cells"`
}

// Scoreboard is a ranked snapshot of a contest.
type Scoreboard struct {
	ContestID   int64     `json:"contest_id"`
	TaskIDs     []int64   `json:"task_ids"`
	Rows        []Row     `json:"rows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CellStat is the aggregate of one participant's submissions for one task.
type CellStat struct {
	ParticipantID int64
	TaskID        int64
	Attempts      int
	BestPoints    int64
	Solved        bool
}

// BuildRows lays participants and aggregates out on the task grid and ranks
// the result. Aggregates for tasks outside taskIDs are ignored.
func BuildRows(taskIDs []int64, participants []Participant, stats []CellStat) []Row {
	column := make(map[int64]int, len(taskIDs))
	for i, id := range taskIDs {
		column[id] = i
	}
	byParticipant := make(map[int64][]CellStat, len(participants))
	for _, s := range stats {
		byParticipant[s.ParticipantID] = append(byParticipant[s.ParticipantID], s)
	}

	rows := make([]Row, 0, len(participants))
	for _, p := range participants {
		row := Row{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			Penalty:       p.Penalty,
			RegisteredAt:  p.RegisteredAt,
			Cells:         make([]Cell, len(taskIDs)),
		}
		for i, id := range taskIDs {
			row.Cells[i].TaskID = id
		}
		for _, s := range byParticipant[p.ID] {
			i, ok := column[s.TaskID]
			if !ok {
				continue
			}
			best := s.BestPoints
			if best < 0 {
				best = 0
			}
			row.Cells[i] = Cell{TaskID: s.TaskID, Attempts: s.Attempts, BestPoints: best, Solved: s.Solved}
		}
		for _, c := range row.Cells {
			if c.Solved {
				row.TasksSolved++
			}
			row.TotalPoints += c.BestPoints
		}
		rows = append(rows, row)
	}
	Rank(rows)
	return rows
}

// Rank orders rows by tasks solved desc, total points desc, penalty asc,
// registration time asc and participant id asc, then assigns competition
// ranks: rows equal on the first three keys share a rank.
func Rank(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.TasksSolved != b.TasksSolved {
			return a.TasksSolved > b.TasksSolved
		}
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if a.Penalty != b.Penalty {
			return a.Penalty < b.Penalty
		}
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ParticipantID < b.ParticipantID
	})
	for i := range rows {
		if i > 0 && sameStanding(rows[i-1], rows[i]) {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}

func sameStanding(a, b Row) bool {
	return a.TasksSolved == b.TasksSolved && a.TotalPoints == b.TotalPoints && a.Penalty == b.Penalty
}
