package agent

import "strings"

// Slot is one bookable time window. Its identifier string is the uniqueness
// key the store enforces conflicts on.
type Slot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Date      string `json:"date"`
}

func (s Slot) Identifier() string {
	return s.StartTime + " - " + s.EndTime + ", " + s.Date
}

// DefaultCatalog is the static set of open slots offered to callers. A
// production deployment would derive this from the store's unbooked slots.
func DefaultCatalog() []Slot {
	return []Slot{
		{StartTime: "10:30am", EndTime: "11:30am", Date: "26th January"},
		{StartTime: "2:15pm", EndTime: "3:15pm", Date: "26th January"},
		{StartTime: "9:00am", EndTime: "10:00am", Date: "27th January"},
		{StartTime: "3:45pm", EndTime: "4:45pm", Date: "27th January"},
		{StartTime: "11:00am", EndTime: "12:00pm", Date: "28th January"},
		{StartTime: "1:30pm", EndTime: "2:30pm", Date: "28th January"},
		{StartTime: "10:00am", EndTime: "11:00am", Date: "29th January"},
		{StartTime: "4:00pm", EndTime: "5:00pm", Date: "29th January"},
		{StartTime: "9:15am", EndTime: "10:15am", Date: "30th January"},
		{StartTime: "2:00pm", EndTime: "3:00pm", Date: "30th January"},
	}
}

func describeCatalog(slots []Slot) string {
	if len(slots) == 0 {
		return "There are no open slots at the moment."
	}
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.Identifier()
	}
	return "Available slots are: " + strings.Join(ids, "; ") + "."
}
