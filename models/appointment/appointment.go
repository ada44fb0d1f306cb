package appointment

import (
	"strconv"
	"strings"
	"time"
)

// Column names of the raw appointment export.
const (
	PatientID      = "PatientId"
	AppointmentID  = "AppointmentID"
	Gender         = "Gender"
	ScheduledDay   = "ScheduledDay"
	AppointmentDay = "AppointmentDay"
	Age            = "Age"
	Neighbourhood  = "Neighbourhood"
	Scholarship    = "Scholarship"
	Hipertension   = "Hipertension"
	Diabetes       = "Diabetes"
	Alcoholism     = "Alcoholism"
	Handcap        = "Handcap"
	SMSReceived    = "SMS_received"

	// Label is the canonical outcome column. The preprocessor renames any of
	// LabelAliases to it.
	Label = "No-show"

	// Derived columns.
	WaitingTime          = "WaitingTime"
	WaitingDays          = "Waiting_Days"
	ScheduledWeekday     = "ScheduledDay_Weekday"
	AppointmentWeekday   = "AppointmentDay_Weekday"
	PredictedNoShow      = "Predicted_NoShow"
	ActualNoShow         = "Actual_NoShow"
	PredictionColumn     = "Prediction"
	OutcomeShow          = "Show"
	OutcomeNoShow        = "NoShow"
	outcomeMissingMarker = "NaN"
)

// Identifiers carry no predictive signal and never reach the feature table.
var Identifiers = []string{PatientID, AppointmentID}

// DateColumns are the two timestamps of an appointment.
var DateColumns = []string{ScheduledDay, AppointmentDay}

// LabelAliases are spellings of the outcome column seen in the wild.
var LabelAliases = []string{"No_show", "NoShow", "no_show", "no-show"}

// Appointment is one historical record as exported by the scheduling system.
type Appointment struct {
	PatientID      string    `csv:"PatientId" json:"patientId"`
	AppointmentID  string    `csv:"AppointmentID" json:"appointmentId"`
	Gender         string    `csv:"Gender" json:"gender"`
	ScheduledDay   time.Time `csv:"ScheduledDay" json:"scheduledDay"`
	AppointmentDay time.Time `csv:"AppointmentDay" json:"appointmentDay"`
	Age            int       `csv:"Age" json:"age"`
	Neighbourhood  string    `csv:"Neighbourhood" json:"neighbourhood"`
	Scholarship    int       `csv:"Scholarship" json:"scholarship"`
	Hipertension   int       `csv:"Hipertension" json:"hipertension"`
	Diabetes       int       `csv:"Diabetes" json:"diabetes"`
	Alcoholism     int       `csv:"Alcoholism" json:"alcoholism"`
	Handcap        int       `csv:"Handcap" json:"handcap"`
	SMSReceived    int       `csv:"SMS_received" json:"smsReceived"`
	NoShow         *bool     `csv:"No-show" json:"noShow,omitempty"`
}

// WaitingTime is the number of whole days between scheduling and the visit.
func (a Appointment) WaitingTime() int {
	return DaysBetween(a.ScheduledDay, a.AppointmentDay)
}

// Header lists the raw export columns in file order.
func Header() []string {
	return []string{
		PatientID, AppointmentID, Gender, ScheduledDay, AppointmentDay, Age,
		Neighbourhood, Scholarship, Hipertension, Diabetes, Alcoholism,
		Handcap, SMSReceived, Label,
	}
}

// Record renders the appointment as a raw export row aligned with Header.
func (a Appointment) Record() []string {
	outcome := ""
	if a.NoShow != nil {
		outcome = "No"
		if *a.NoShow {
			outcome = "Yes"
		}
	}
	return []string{
		a.PatientID,
		a.AppointmentID,
		a.Gender,
		FormatTimestamp(a.ScheduledDay),
		FormatTimestamp(a.AppointmentDay),
		strconv.Itoa(a.Age),
		a.Neighbourhood,
		strconv.Itoa(a.Scholarship),
		strconv.Itoa(a.Hipertension),
		strconv.Itoa(a.Diabetes),
		strconv.Itoa(a.Alcoholism),
		strconv.Itoa(a.Handcap),
		strconv.Itoa(a.SMSReceived),
		outcome,
	}
}

// IsLabel reports whether name is the canonical label or one of its aliases.
func IsLabel(name string) bool {
	if name == Label {
		return true
	}
	for _, alias := range LabelAliases {
		if name == alias {
			return true
		}
	}
	return false
}

// ResolveLabel returns the first column in names that denotes the outcome.
func ResolveLabel(names []string) (string, bool) {
	for _, n := range names {
		if n == Label {
			return n, true
		}
	}
	for _, n := range names {
		if IsLabel(n) {
			return n, true
		}
	}
	return "", false
}

// OutcomeCode maps the raw Yes/No answer to 1/0. Anything else is missing.
func OutcomeCode(raw string) (int, bool) {
	switch strings.TrimSpace(raw) {
	case "No":
		return 0, true
	case "Yes":
		return 1, true
	}
	return 0, false
}

// OutcomeRecord is OutcomeCode rendered for a CSV cell, "NaN" when missing.
func OutcomeRecord(raw string) string {
	code, ok := OutcomeCode(raw)
	if !ok {
		return outcomeMissingMarker
	}
	if code == 1 {
		return "1"
	}
	return "0"
}

// OutcomeLabel renders a class code as the user-facing outcome.
func OutcomeLabel(code int) string {
	if code == 0 {
		return OutcomeShow
	}
	return OutcomeNoShow
}
