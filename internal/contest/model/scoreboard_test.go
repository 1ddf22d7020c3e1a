package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildRowsFillsGridAndRanks(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	participants := []Participant{
		{ID: 1, UserID: 11, Penalty: 30, RegisteredAt: base},
		{ID: 2, UserID: 12, Penalty: 10, RegisteredAt: base.Add(time.Minute)},
		{ID: 3, UserID: 13, Penalty: 0, RegisteredAt: base.Add(2 * time.Minute)},
	}
	stats := []CellStat{
		{ParticipantID: 1, TaskID: 100, Attempts: 2, BestPoints: 50, Solved: true},
		{ParticipantID: 1, TaskID: 200, Attempts: 1, BestPoints: 20},
		{ParticipantID: 2, TaskID: 200, Attempts: 3, BestPoints: 70, Solved: true},
		{ParticipantID: 3, TaskID: 999, Attempts: 5, BestPoints: 100, Solved: true},
	}

	rows := BuildRows([]int64{100, 200}, participants, stats)

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	// Participants 1 and 2 tie on solved count and points; the lower penalty wins.
	if rows[0].ParticipantID != 2 || rows[0].Rank != 1 || rows[0].TasksSolved != 1 || rows[0].TotalPoints != 70 {
		t.Fatalf("unexpected leader: %+v", rows[0])
	}
	if rows[1].ParticipantID != 1 || rows[1].Rank != 2 || rows[1].TotalPoints != 70 {
		t.Fatalf("unexpected runner-up: %+v", rows[1])
	}
	last := rows[2]
	if last.ParticipantID != 3 || last.TasksSolved != 0 || last.TotalPoints != 0 || last.Cells[0].Attempts != 0 {
		t.Fatalf("task outside the contest leaked into the grid: %+v", last)
	}
	if rows[1].Cells[1].TaskID != 200 || rows[1].Cells[1].Attempts != 1 {
		t.Fatalf("cells out of task order: %+v", rows[1].Cells)
	}
}

func TestRankTieBreaksAndSharedRanks(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []Row{
		{ParticipantID: 5, TasksSolved: 2, TotalPoints: 100, Penalty: 40, RegisteredAt: base.Add(time.Minute)},
		{ParticipantID: 4, TasksSolved: 2, TotalPoints: 100, Penalty: 40, RegisteredAt: base},
		{ParticipantID: 3, TasksSolved: 2, TotalPoints: 100, Penalty: 20, RegisteredAt: base},
		{ParticipantID: 2, TasksSolved: 2, TotalPoints: 150, Penalty: 90, RegisteredAt: base},
		{ParticipantID: 1, TasksSolved: 3, TotalPoints: 10, Penalty: 300, RegisteredAt: base},
	}
	Rank(rows)

	wantOrder := []int64{1, 2, 3, 4, 5}
	wantRank := []int{1, 2, 3, 4, 4}
	for i := range rows {
		if rows[i].ParticipantID != wantOrder[i] || rows[i].Rank != wantRank[i] {
			t.Fatalf("position %d: expected participant %d rank %d, got %d rank %d",
				i, wantOrder[i], wantRank[i], rows[i].ParticipantID, rows[i].Rank)
		}
	}
}

func TestRankIsDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	build := func(reverse bool) []byte {
		rows := []Row{
			{ParticipantID: 7, TasksSolved: 1, TotalPoints: 5, RegisteredAt: base},
			{ParticipantID: 8, TasksSolved: 1, TotalPoints: 5, RegisteredAt: base},
			{ParticipantID: 9, TasksSolved: 1, TotalPoints: 5, RegisteredAt: base},
		}
		if reverse {
			rows[0], rows[2] = rows[2], rows[0]
		}
		Rank(rows)
		out, err := json.Marshal(rows)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return out
	}
	if string(build(false)) != string(build(true)) {
		t.Fatal("ranking depends on input order")
	}
}
