package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTimestampUnmarshal(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", `"2024-03-05T14:30:00Z"`, want},
		{"offset", `"2024-03-05T16:30:00+02:00"`, want},
		{"naive is utc", `"2024-03-05T14:30:00"`, want},
		{"naive fractional", `"2024-03-05T14:30:00.000000"`, want},
		{"space separated", `"2024-03-05 14:30:00"`, want},
		{"null", `null`, time.Time{}},
		{"empty", `""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.in), &ts); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("got %v, want %v", ts.Time, tt.want)
			}
		})
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
	if err := json.Unmarshal([]byte(`12`), &ts); err == nil {
		t.Error("expected error for numeric timestamp")
	}
}

func TestTimestampMarshalZeroIsNull(t *testing.T) {
	data, err := json.Marshal(struct {
		At Timestamp `json:"at"`
	}{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"at":null}` {
		t.Errorf("got %s", data)
	}
}

func TestToolStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ToolStatus
		ok       bool
	}{
		{"", ToolInvoking, true},
		{ToolInvoking, ToolInvoking, true},
		{ToolInvoking, ToolCompleted, true},
		{ToolInvoking, ToolFailed, true},
		{ToolCompleted, ToolCompleted, true},
		{ToolCompleted, ToolInvoking, false},
		{ToolFailed, ToolInvoking, false},
		{ToolCompleted, ToolFailed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.ok {
			t.Errorf("%q -> %q = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}

	if ToolInvoking.Terminal() {
		t.Error("calling should not be terminal")
	}
	if !ToolFailed.Terminal() || !ToolCompleted.Terminal() {
		t.Error("completed and failed are terminal")
	}
}

func TestOrderedStepsLeavesStorageAlone(t *testing.T) {
	seq := &OutreachSequence{Steps: []OutreachStep{
		{ID: "c", StepNumber: 3},
		{ID: "a", StepNumber: 1},
		{ID: "b", StepNumber: 2},
	}}

	var got []string
	for _, s := range seq.OrderedSteps() {
		got = append(got, s.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if seq.Steps[0].ID != "c" {
		t.Error("OrderedSteps reordered the sequence")
	}

	if step, ok := seq.Step("b"); !ok || step.StepNumber != 2 {
		t.Errorf("Step(b) = %+v, %v", step, ok)
	}
	if _, ok := seq.Step("zzz"); ok {
		t.Error("found a step that does not exist")
	}

	var none *OutreachSequence
	if none.OrderedSteps() != nil {
		t.Error("nil sequence has steps")
	}
	if _, ok := none.Step("a"); ok {
		t.Error("nil sequence found a step")
	}
}

func TestPatchesOmitUnsetFields(t *testing.T) {
	data, err := json.Marshal(StepPatch{Content: String("Hi"), WaitTime: Int(0)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"content":"Hi","waitTime":0}` {
		t.Errorf("step patch = %s", data)
	}

	data, err = json.Marshal(SequenceUpdate{ID: "seq-1", SequencePatch: SequencePatch{Name: String("Renamed")}})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":"seq-1","name":"Renamed"}` {
		t.Errorf("sequence update = %s", data)
	}
}

func TestPatchApply(t *testing.T) {
	seq := OutreachSequence{Name: "Old", CompanyName: "Acme", RoleName: "SRE"}
	SequencePatch{Name: String("New"), CandidatePersona: String("Pragmatic")}.Apply(&seq)
	if seq.Name != "New" || seq.CompanyName != "Acme" || seq.CandidatePersona != "Pragmatic" {
		t.Errorf("sequence after patch = %+v", seq)
	}

	step := OutreachStep{Type: StepEmail, Content: "Hello", Subject: "Hi"}
	patch := StepPatch{Type: Kind(StepPhone), WaitTime: Int(3)}
	patch.Apply(&step)
	if step.Type != StepPhone || step.Content != "Hello" || step.WaitTime == nil || *step.WaitTime != 3 {
		t.Errorf("step after patch = %+v", step)
	}
	// The step keeps its own copy of the wait time
	*patch.WaitTime = 9
	if *step.WaitTime != 3 {
		t.Error("step aliases the patch")
	}
	if step.HasSubject() {
		t.Error("phone steps have no subject")
	}

	if !(StepPatch{}).IsEmpty() || !(SequencePatch{}).IsEmpty() {
		t.Error("zero patches should be empty")
	}

	user := User{Name: "Ann", Email: "ann@example.com"}
	UserPatch{Company: String("Acme")}.Apply(&user)
	if user.Name != "Ann" || user.Company != "Acme" {
		t.Errorf("user after patch = %+v", user)
	}
}

func TestEntryWireShape(t *testing.T) {
	raw := `{"id":"m-1","role":"assistant","content":"","timestamp":"2024-03-05T14:30:00",
		"loading":false,"toolCall":{"name":"generate_sequence","status":"calling"}}`

	var e ConversationEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatal(err)
	}
	if e.ToolCall == nil || e.ToolCall.Status != ToolInvoking || e.ToolCall.Name != "generate_sequence" {
		t.Errorf("tool call = %+v", e.ToolCall)
	}
	if e.Timestamp.Location() != time.UTC {
		t.Errorf("naive timestamp should be UTC, got %v", e.Timestamp.Location())
	}
}

func TestStepKindLabel(t *testing.T) {
	if StepLinkedIn.Label() != "LINKEDIN" || StepKind("fax").Label() != "OTHER" {
		t.Error("unexpected labels")
	}
}
