package domain

// Patch types carry partial updates. A nil field is omitted from the wire
// body, so the server only touches the fields that were set.

// SequencePatch is a partial OutreachSequence.
type SequencePatch struct {
	Name             *string `json:"name,omitempty"`
	CompanyName      *string `json:"companyName,omitempty"`
	RoleName         *string `json:"roleName,omitempty"`
	CandidatePersona *string `json:"candidatePersona,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p SequencePatch) IsEmpty() bool {
	return p.Name == nil && p.CompanyName == nil && p.RoleName == nil && p.CandidatePersona == nil
}

// Apply copies the set fields onto seq.
func (p SequencePatch) Apply(seq *OutreachSequence) {
	if p.Name != nil {
		seq.Name = *p.Name
	}
	if p.CompanyName != nil {
		seq.CompanyName = *p.CompanyName
	}
	if p.RoleName != nil {
		seq.RoleName = *p.RoleName
	}
	if p.CandidatePersona != nil {
		seq.CandidatePersona = *p.CandidatePersona
	}
}

// SequenceUpdate is the push payload for update_sequence: the sequence id
// plus the patched fields, flattened into one object.
type SequenceUpdate struct {
	ID string `json:"id"`
	SequencePatch
}

// StepPatch is a partial OutreachStep.
type StepPatch struct {
	Type     *StepKind `json:"type,omitempty"`
	Content  *string   `json:"content,omitempty"`
	Subject  *string   `json:"subject,omitempty"`
	Timing   *string   `json:"timing,omitempty"`
	WaitTime *int      `json:"waitTime,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p StepPatch) IsEmpty() bool {
	return p.Type == nil && p.Content == nil && p.Subject == nil && p.Timing == nil && p.WaitTime == nil
}

// Apply copies the set fields onto step.
func (p StepPatch) Apply(step *OutreachStep) {
	if p.Type != nil {
		step.Type = *p.Type
	}
	if p.Content != nil {
		step.Content = *p.Content
	}
	if p.Subject != nil {
		step.Subject = *p.Subject
	}
	if p.Timing != nil {
		step.Timing = *p.Timing
	}
	if p.WaitTime != nil {
		wait := *p.WaitTime
		step.WaitTime = &wait
	}
}

// UserPatch is a partial User.
type UserPatch struct {
	Name        *string        `json:"name,omitempty"`
	Email       *string        `json:"email,omitempty"`
	Company     *string        `json:"company,omitempty"`
	Role        *string        `json:"role,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// Apply copies the set fields onto user.
func (p UserPatch) Apply(user *User) {
	if p.Name != nil {
		user.Name = *p.Name
	}
	if p.Email != nil {
		user.Email = *p.Email
	}
	if p.Company != nil {
		user.Company = *p.Company
	}
	if p.Role != nil {
		user.Role = *p.Role
	}
	if p.Preferences != nil {
		user.Preferences = p.Preferences
	}
}

// String returns a pointer to s, for building patches inline.
func String(s string) *string {
	return &s
}

// Int returns a pointer to n.
func Int(n int) *int {
	return &n
}

// Kind returns a pointer to k.
func Kind(k StepKind) *StepKind {
	return &k
}
