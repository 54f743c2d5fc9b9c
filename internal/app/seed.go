package app

import (
	"context"
	"fmt"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// SeededUser is a demo account and its bearer token
type SeededUser struct {
	User  types.UserMe
	Token string
}

// SeedResult lists the demo accounts created by Seed
type SeedResult struct {
	Students []SeededUser
	Tutors   []SeededUser
}

type seedUser struct {
	first, last string
	student     bool
}

var (
	demoStudents = []seedUser{
		{"Sam", "Student", true},
		{"Riley", "Park", true},
	}
	demoTutors = []seedUser{
		{"Ada", "Lovelace", false},
		{"Alan", "Turing", false},
		{"Grace", "Hopper", false},
	}
	// day, start, end for every demo student
	demoAvailability = []struct {
		day        int
		start, end string
	}{
		{0, "09:00", "10:30"},
		{2, "14:00", "15:00"},
		{2, "09:30", "11:00"},
		{4, "18:00", "20:00"},
	}
)

// Seed creates demo students and tutors, matches every student with every
// tutor, and posts availability for the students
func Seed(ctx context.Context, db interfaces.DatabaseManager) (*SeedResult, error) {
	result := &SeedResult{}

	create := func(u seedUser) (SeededUser, error) {
		user, err := db.CreateUser(ctx, u.first, u.last, u.student)
		if err != nil {
			return SeededUser{}, fmt.Errorf("failed to create %s %s: %w", u.first, u.last, err)
		}
		token, err := db.IssueToken(ctx, user.ID)
		if err != nil {
			return SeededUser{}, fmt.Errorf("failed to issue token for %d: %w", user.ID, err)
		}
		return SeededUser{User: *user, Token: token}, nil
	}

	for _, u := range demoTutors {
		seeded, err := create(u)
		if err != nil {
			return nil, err
		}
		result.Tutors = append(result.Tutors, seeded)
	}

	for i, u := range demoStudents {
		student, err := create(u)
		if err != nil {
			return nil, err
		}
		result.Students = append(result.Students, student)

		for j, tutor := range result.Tutors {
			score := 0.95 - 0.1*float64(j) - 0.05*float64(i)
			if err := db.SaveMatch(ctx, student.User.ID, tutor.User.ID, score); err != nil {
				return nil, fmt.Errorf("failed to save match: %w", err)
			}
		}

		for _, a := range demoAvailability {
			slot := &types.AvailabilitySlot{UserID: student.User.ID, DayOfWeek: a.day, StartTime: a.start, EndTime: a.end}
			if err := db.AddAvailability(ctx, slot); err != nil {
				return nil, fmt.Errorf("failed to add availability: %w", err)
			}
		}

		if err := db.AddNotification(ctx, &types.Notification{
			UserID:    student.User.ID,
			EventType: "match",
			Title:     "New tutor matches",
			Body:      fmt.Sprintf("You have %d matched tutors", len(result.Tutors)),
		}); err != nil {
			return nil, fmt.Errorf("failed to add notification: %w", err)
		}
	}

	return result, nil
}
