package fab

import "time"

// WorkUnit is the row-store representation of one manufacturing unit.
type WorkUnit struct {
	ID string `gorm:"column:id;primaryKey" json:"id"`

	AssemblyStatus      StageStatus `gorm:"column:assembly_status;not null;index" json:"assembly_status"`
	AssemblyClaimant    *string     `gorm:"column:assembly_claimant" json:"assembly_claimant,omitempty"`
	AssemblyCompletedAt *time.Time  `gorm:"column:assembly_completed_at" json:"assembly_completed_at,omitempty"`

	WeldingStatus      StageStatus `gorm:"column:welding_status;not null;index" json:"welding_status"`
	WeldingClaimant    *string     `gorm:"column:welding_claimant" json:"welding_claimant,omitempty"`
	WeldingCompletedAt *time.Time  `gorm:"column:welding_completed_at" json:"welding_completed_at,omitempty"`

	Occupant      *string    `gorm:"column:occupant;index" json:"occupant,omitempty"`
	OccupiedSince *time.Time `gorm:"column:occupied_since" json:"occupied_since,omitempty"`
	ActiveStage   Stage      `gorm:"column:active_stage" json:"active_stage,omitempty"`

	ReworkStatus ReworkStatus     `gorm:"column:rework_status;index" json:"rework_status,omitempty"`
	Inspection   InspectionResult `gorm:"column:inspection_result" json:"inspection_result,omitempty"`

	VersionToken int64     `gorm:"column:version_token;not null" json:"version_token"`
	StatusDetail string    `gorm:"column:status_detail" json:"status_detail"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (WorkUnit) TableName() string { return "work_units" }

// NewWorkUnit returns a unit with both fabrication stages pending.
func NewWorkUnit(id string, now time.Time) *WorkUnit {
	return &WorkUnit{
		ID:             id,
		AssemblyStatus: StatusPending,
		WeldingStatus:  StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// StageView is the per-stage slice of a unit that the stage machines read.
type StageView struct {
	Stage       Stage
	Status      StageStatus
	Claimant    *string
	CompletedAt *time.Time
}

func (u *WorkUnit) StageView(s Stage) StageView {
	switch s {
	case StageAssembly:
		return StageView{Stage: s, Status: normalizeStatus(u.AssemblyStatus), Claimant: u.AssemblyClaimant, CompletedAt: u.AssemblyCompletedAt}
	case StageWelding:
		return StageView{Stage: s, Status: normalizeStatus(u.WeldingStatus), Claimant: u.WeldingClaimant, CompletedAt: u.WeldingCompletedAt}
	}
	return StageView{Stage: s, Status: StatusPending}
}

func normalizeStatus(s StageStatus) StageStatus {
	if s == "" {
		return StatusPending
	}
	return s
}

func (u *WorkUnit) IsOccupied() bool {
	return u.Occupant != nil && *u.Occupant != ""
}

func (u *WorkUnit) OccupantName() string {
	if u.Occupant == nil {
		return ""
	}
	return *u.Occupant
}

// Clone returns a deep copy, pointer fields included.
func (u *WorkUnit) Clone() *WorkUnit {
	if u == nil {
		return nil
	}
	c := *u
	c.AssemblyClaimant = cloneString(u.AssemblyClaimant)
	c.WeldingClaimant = cloneString(u.WeldingClaimant)
	c.Occupant = cloneString(u.Occupant)
	c.AssemblyCompletedAt = cloneTime(u.AssemblyCompletedAt)
	c.WeldingCompletedAt = cloneTime(u.WeldingCompletedAt)
	c.OccupiedSince = cloneTime(u.OccupiedSince)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
