package appointment

import "time"

// Event is a domain event buffered on the aggregate and drained by the
// command handler after a successful commit. The Kafka topic name equals
// EventType (production-style: event per topic).
type Event interface {
	EventType() string
	AggregateID() string
}

const (
	EventTypeBooked            = "scheduling.appointment.booked.v1"
	EventTypeRescheduled       = "scheduling.appointment.rescheduled.v1"
	EventTypeCompleted         = "scheduling.appointment.completed.v1"
	EventTypeCancelled         = "scheduling.appointment.cancelled.v1"
	EventTypeReminderRequested = "scheduling.reminder.requested.v1"
)

type Booked struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	StartUTC      time.Time `json:"start_time"`
	EndUTC        time.Time `json:"end_time"`
}

func (e *Booked) EventType() string   { return EventTypeBooked }
func (e *Booked) AggregateID() string { return e.AppointmentID }

type Rescheduled struct {
	AppointmentID    string    `json:"appointment_id"`
	PatientID        string    `json:"patient_id"`
	DoctorID         string    `json:"doctor_id"`
	PreviousStartUTC time.Time `json:"previous_start_time"`
	PreviousEndUTC   time.Time `json:"previous_end_time"`
	StartUTC         time.Time `json:"start_time"`
	EndUTC           time.Time `json:"end_time"`
	Reason           string    `json:"reason,omitempty"`
}

func (e *Rescheduled) EventType() string   { return EventTypeRescheduled }
func (e *Rescheduled) AggregateID() string { return e.AppointmentID }

type Completed struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	CompletedUTC  time.Time `json:"completed_at"`
	Notes         string    `json:"notes,omitempty"`
}

func (e *Completed) EventType() string   { return EventTypeCompleted }
func (e *Completed) AggregateID() string { return e.AppointmentID }

type Cancelled struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	StartUTC      time.Time `json:"start_time"`
	EndUTC        time.Time `json:"end_time"`
	CancelledUTC  time.Time `json:"cancelled_at"`
	Reason        string    `json:"reason"`
}

func (e *Cancelled) EventType() string   { return EventTypeCancelled }
func (e *Cancelled) AggregateID() string { return e.AppointmentID }

// ReminderRequested is emitted by the Book/Reschedule handlers (not the
// aggregate) for each configured reminder offset still in the future.
type ReminderRequested struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Channel       string    `json:"channel"`
	Recipient     string    `json:"recipient"`
	StartUTC      time.Time `json:"start_time"`
	RemindAtUTC   time.Time `json:"remind_at"`
}

func (e *ReminderRequested) EventType() string   { return EventTypeReminderRequested }
func (e *ReminderRequested) AggregateID() string { return e.AppointmentID }
