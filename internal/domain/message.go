package domain

import (
	"strings"
	"time"
)

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderPatient Sender = "patient"
	SenderDoctor  Sender = "doctor"
)

// TimestampLayout is the fixed-width UTC layout used for message timestamps.
// Fixed width keeps lexicographic string comparison equivalent to
// chronological order, which the timeline sort and dedup rely on.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t as a wire timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Message is one unit of conversation content. The timestamp doubles as the
// message identity within a conversation; messages are never mutated after
// creation, except that dead audio URLs may be nulled on load.
type Message struct {
	Sender            Sender        `json:"sender"`
	Timestamp         string        `json:"timestamp"`
	Text              string        `json:"text,omitempty"`
	TranslatedText    string        `json:"translatedText,omitempty"`
	Language          string        `json:"language,omitempty"`
	RecordingLanguage string        `json:"recordingLanguage,omitempty"`
	AudioURL          string        `json:"audioUrl,omitempty"`
	AudioURLEn        string        `json:"audioUrlEn,omitempty"`
	AudioURLKn        string        `json:"audioUrlKn,omitempty"`
	Diagnosis         string        `json:"diagnosis,omitempty"`
	Prescription      *Prescription `json:"prescription,omitempty"`
	DoctorID          string        `json:"doctorId"`
	PatientID         string        `json:"patientId"`
}

// Time parses the message timestamp.
func (m Message) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, m.Timestamp)
}

// IsDiagnosis reports whether m is a doctor-authored diagnosis message.
func (m Message) IsDiagnosis() bool {
	return m.Sender == SenderDoctor && strings.TrimSpace(m.Diagnosis) != ""
}

// Prescription is the structured record attached to a prescription message.
// All four fields are required together; a partial prescription is invalid.
type Prescription struct {
	Medicine  string `json:"medicine"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// Valid reports whether every field is non-empty.
func (p Prescription) Valid() bool {
	return strings.TrimSpace(p.Medicine) != "" &&
		strings.TrimSpace(p.Dosage) != "" &&
		strings.TrimSpace(p.Frequency) != "" &&
		strings.TrimSpace(p.Duration) != ""
}

// Summary renders the prescription in the comma-joined form stored on the
// patient record and in admin notifications.
func (p Prescription) Summary() string {
	return strings.Join([]string{p.Medicine, p.Dosage, p.Frequency, p.Duration}, ", ")
}
