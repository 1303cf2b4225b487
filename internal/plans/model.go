package plans

// Plan is a dated study goal owned by one user.
type Plan struct {
	PlanID          string `gorm:"column:plan_id;primaryKey;size:190;not null" json:"plan_id"`
	UserID          string `gorm:"column:user_id;size:190;not null;index:idx_plans_user_created,priority:1" json:"user_id"`
	Title           string `gorm:"column:title;size:512;not null" json:"title"`
	Goals           string `gorm:"column:goals;type:text;not null;default:''" json:"goals"`
	DueAtMillis     int64  `gorm:"column:due_at_ms;not null" json:"due_at_ms"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_plans_user_created,priority:2" json:"created_at_ms"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null" json:"updated_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (Plan) TableName() string {
	return "study_plans"
}

// PlanNote attaches a note to a plan with its completion flag.
type PlanNote struct {
	PlanID        string `gorm:"column:plan_id;primaryKey;size:190;not null" json:"plan_id"`
	NoteID        string `gorm:"column:note_id;primaryKey;size:190;not null;index" json:"note_id"`
	Completed     bool   `gorm:"column:completed;not null;default:false" json:"completed"`
	AddedAtMillis int64  `gorm:"column:added_at_ms;not null" json:"added_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (PlanNote) TableName() string {
	return "study_plan_notes"
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Plan{}, &PlanNote{}}
}

// View is a listed plan with its completion counts. Progress is the rounded
// percentage of completed notes, 0 for an empty plan.
type View struct {
	Plan
	NoteCount      int `json:"note_count"`
	CompletedCount int `json:"completed_count"`
	Progress       int `json:"progress"`
}

// NoteEntry is an attached note with its current title and subject.
type NoteEntry struct {
	PlanNote
	Title   string `json:"title"`
	Subject string `json:"subject,omitempty"`
}

// CreateInput carries the caller-supplied fields of a new plan.
type CreateInput struct {
	Title       string
	Goals       string
	DueAtMillis int64
}

// Patch names the plan fields to change; nil fields are left as they are.
type Patch struct {
	Title       *string
	Goals       *string
	DueAtMillis *int64
}

func (p Patch) empty() bool {
	return p.Title == nil && p.Goals == nil && p.DueAtMillis == nil
}

func progressPercent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return (completed*100 + total/2) / total
}
