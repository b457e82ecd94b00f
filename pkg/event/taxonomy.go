package event

import "time"

// Type discriminates the closed set of event variants.
type Type string

const (
	TypeReservation Type = "reservation"
	TypeCustomer    Type = "customer"
	TypeRoom        Type = "room"
	TypeCheckInOut  Type = "check_in_out"
	TypeAnalytics   Type = "analytics"
	TypeSystem      Type = "system"
)

// Action qualifies what happened to the resource named by Type.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionCancelled Action = "cancelled"
	ActionDeleted   Action = "deleted"

	ActionStatusChanged Action = "status_changed"
	ActionMaintenance   Action = "maintenance"

	ActionCheckedIn  Action = "checked_in"
	ActionCheckedOut Action = "checked_out"

	ActionReport Action = "report"

	ActionHealth Action = "health"
	ActionError  Action = "error"
)

// Schedule names the fixed batch slots analytics events run in.
type Schedule string

const (
	ScheduleHourly  Schedule = "hourly"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// Payload is the variant-specific data carried by an envelope. The set of
// implementations is closed; decoding switches exhaustively on Type.
type Payload interface {
	payload()
}

type ReservationData struct {
	ReservationID string    `json:"reservation_id"`
	RoomNumber    string    `json:"room_number,omitempty"`
	GuestID       string    `json:"guest_id,omitempty"`
	CheckInDate   time.Time `json:"check_in_date,omitempty"`
	CheckOutDate  time.Time `json:"check_out_date,omitempty"`
	Status        string    `json:"status,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

type CustomerData struct {
	CustomerID  string `json:"customer_id"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	LoyaltyTier string `json:"loyalty_tier,omitempty"`
}

type RoomData struct {
	RoomID     string `json:"room_id"`
	RoomNumber string `json:"room_number,omitempty"`
	Floor      int    `json:"floor,omitempty"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type CheckInOutData struct {
	ReservationID string    `json:"reservation_id"`
	RoomNumber    string    `json:"room_number,omitempty"`
	GuestID       string    `json:"guest_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitempty"`
}

type AnalyticsData struct {
	ReportType string             `json:"report_type"`
	Schedule   Schedule           `json:"schedule"`
	Period     string             `json:"period,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

type SystemData struct {
	Component string            `json:"component"`
	Severity  string            `json:"severity,omitempty"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

func (*ReservationData) payload() {}
func (*CustomerData) payload()    {}
func (*RoomData) payload()        {}
func (*CheckInOutData) payload()  {}
func (*AnalyticsData) payload()   {}
func (*SystemData) payload()      {}

// DefaultPriority assigns a priority when the producer left it unset.
// Guest-movement and safety-affecting actions rank above bookkeeping;
// scheduled reports rank lowest.
func DefaultPriority(t Type, a Action) Priority {
	switch t {
	case TypeReservation:
		if a == ActionCreated || a == ActionCancelled {
			return PriorityHigh
		}
		return PriorityMedium
	case TypeCheckInOut:
		return PriorityHigh
	case TypeRoom:
		if a == ActionMaintenance {
			return PriorityCritical
		}
		return PriorityHigh
	case TypeCustomer:
		return PriorityMedium
	case TypeAnalytics:
		return PriorityLow
	case TypeSystem:
		if a == ActionError {
			return PriorityCritical
		}
		return PriorityLow
	default:
		return PriorityMedium
	}
}
