package fixtures

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"callprobe/pkg/types"
)

// CallScenario is the cast of one multi-actor scenario
type CallScenario struct {
	StaffEmails []string
	ClientNames []string
	Reason      string
}

// GenerateCallScenario creates staff accounts and client display names for
// a scenario. Each staff email is unique so scenarios never share a staff
// room on the fake service.
func GenerateCallScenario(staffCount, clientCount int) *CallScenario {
	scenario := &CallScenario{
		StaffEmails: make([]string, staffCount),
		ClientNames: make([]string, clientCount),
		Reason:      GenerateCallReason(),
	}
	for i := 0; i < staffCount; i++ {
		scenario.StaffEmails[i] = UniqueStaffEmail(fmt.Sprintf("agent%d", i+1))
	}
	for i := 0; i < clientCount; i++ {
		scenario.ClientNames[i] = GenerateClientName()
	}
	return scenario
}

// UniqueStaffEmail returns an address whose local part, and so staff id, is
// unique to this process.
func UniqueStaffEmail(prefix string) string {
	return fmt.Sprintf("%s.%s@example.edu", prefix, uuid.NewString()[:8])
}

// GenerateCallReason picks a realistic reason a kiosk visitor calls in
func GenerateCallReason() string {
	reasons := []string{
		"Admission enquiry",
		"Fee payment issue",
		"Exam schedule question",
		"Transcript request",
		"Hostel allocation",
		"Scholarship status",
	}
	return reasons[rand.Intn(len(reasons))]
}

// GenerateClientName picks a visitor display name
func GenerateClientName() string {
	first := []string{"Asha", "Ravi", "Meera", "Kiran", "Neha", "Arjun", "Divya", "Sanjay"}
	last := []string{"Rao", "Iyer", "Patel", "Nair", "Gupta", "Menon"}
	return fmt.Sprintf("%s %s", first[rand.Intn(len(first))], last[rand.Intn(len(last))])
}

// SampleTimetable builds a two-day timetable for faculty in semester
func SampleTimetable(faculty, semester string) types.Timetable {
	return types.Timetable{
		Faculty:     faculty,
		Designation: "Assistant Professor",
		Semester:    semester,
		Schedule: map[string][]types.TimetableSlot{
			"Monday": {
				{Time: "09:00-10:00", Subject: "Data Structures", Room: "CS-101", Type: "lecture"},
				{Time: "11:00-13:00", Subject: "Networks Lab", Room: "Lab-2", Type: "lab"},
			},
			"Wednesday": {
				{Time: "10:00-11:00", Subject: "Operating Systems", Room: "CS-204", Type: "lecture"},
			},
		},
	}
}

// GenerateSemester returns a semester label such as "2026-odd"
func GenerateSemester() string {
	terms := []string{"odd", "even"}
	return fmt.Sprintf("%d-%s", 2024+rand.Intn(3), terms[rand.Intn(len(terms))])
}
