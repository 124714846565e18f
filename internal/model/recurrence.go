package model

// RecurrenceDescriptor describes when a brief re-fires. It is a value type;
// computed occurrences are stored separately in BriefMetadata.
type RecurrenceDescriptor struct {
	Type         RecurrenceType `json:"type,omitempty" validate:"required,oneof=daily weekly custom"`
	TimeOfDay    string         `json:"time" validate:"required,len=5"`
	Weekdays     []int          `json:"weekdays,omitempty" validate:"omitempty,max=7,dive,min=0,max=6"`
	IntervalDays int            `json:"intervalDays,omitempty" validate:"omitempty,min=1,max=365"`
	Timezone     string         `json:"timezone" validate:"required"`
	Enabled      bool           `json:"enabled"`
}

// Active reports whether the descriptor should produce further occurrences.
func (d RecurrenceDescriptor) Active() bool {
	return d.Enabled && d.Type != ""
}
