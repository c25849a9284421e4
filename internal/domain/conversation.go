package domain

import (
	"errors"
	"time"
)

// ErrNoHistory signals that a conversation has no stored messages yet. It is
// valid empty state, not a failure.
var ErrNoHistory = errors.New("no chat history")

// Doctor is the directory profile behind an authenticated user.
type Doctor struct {
	UID      string
	DoctorID string
	Name     string
	Email    string
}

// Assignment links a patient to a doctor's roster.
type Assignment struct {
	PatientID   string
	DoctorID    string
	PatientName string
	Age         string
	Sex         string
	AssignedAt  time.Time
}

// Room identifies the realtime channel shared by one conversation's
// participants. Kept as a tuple so untrusted IDs can never smuggle a
// separator into another room's name.
type Room struct {
	PatientID string
	DoctorID  string
}

// ConversationContext identifies the active conversation. It is replaced
// wholesale when the doctor switches patients, never mutated in place.
type ConversationContext struct {
	PatientID          string
	DoctorID           string
	PatientName        string
	Age                string
	Sex                string
	LanguagePreference string
	AssignedAt         time.Time
}

// Room returns the realtime room for this conversation.
func (c ConversationContext) Room() Room {
	return Room{PatientID: c.PatientID, DoctorID: c.DoctorID}
}

// Alert is a missed-dose notification surfaced to the doctor, independent of
// the message timeline.
type Alert struct {
	ID        string `json:"id,omitempty"`
	PatientID string `json:"patientId"`
	Message   string `json:"message"`
}

// AdminNotification is the staff side-channel record emitted alongside
// diagnosis and prescription sends.
type AdminNotification struct {
	PatientID   string `json:"patientId"`
	PatientName string `json:"patientName"`
	Age         string `json:"age"`
	Sex         string `json:"sex"`
	Description string `json:"description"`
	Disease     string `json:"disease"`
	Medicine    string `json:"medicine,omitempty"`
	DoctorID    string `json:"doctorId"`
}

// PatientUpdate is the partial record written to the backend patient store
// after a diagnosis or prescription.
type PatientUpdate struct {
	Diagnosis    string `json:"diagnosis,omitempty"`
	Prescription string `json:"prescription,omitempty"`
	DoctorID     string `json:"doctorId"`
}
