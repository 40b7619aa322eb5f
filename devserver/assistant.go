package devserver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"helix/config"
	"helix/domain"
	"helix/ollama"
	"helix/transport"
)

const (
	toolGenerateSequence = "generate_sequence"
	toolUpdateSequence   = "update_sequence"

	toolPreamble  = "I'll help with that."
	apologyReply  = "I apologize, but I encountered an error processing your request. Please try again."
	assistantTurn = 2 * time.Minute
)

const systemPrompt = `You are Helix, an AI recruiting assistant specialized in creating outreach sequences for recruiters.

Your goal is to help recruiters create effective, personalized outreach sequences for contacting candidates.

When talking with users:
1. Be concise, professional, and helpful.
2. Ask clarifying questions when needed to understand the outreach needs.
3. Remember information the user has already provided (company, role, etc).`

// Turn is what the assistant decided to say, before wording.
// Draft is a complete reply; Instruction tells a model what to write.
type Turn struct {
	Instruction string
	Draft       string
}

// Composer words the assistant's reply.
type Composer interface {
	Compose(ctx context.Context, history []domain.ConversationEntry, turn Turn) (string, error)
}

// ScriptedComposer replies with the draft unchanged.
type ScriptedComposer struct{}

func (ScriptedComposer) Compose(_ context.Context, _ []domain.ConversationEntry, turn Turn) (string, error) {
	return turn.Draft, nil
}

// OllamaComposer asks a local model to write the reply.
type OllamaComposer struct {
	Client *ollama.Client
}

func (c OllamaComposer) Compose(ctx context.Context, history []domain.ConversationEntry, turn Turn) (string, error) {
	messages := make([]api.Message, 0, len(history)+2)
	messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	for _, e := range history {
		if e.Content == "" || e.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, api.Message{Role: string(e.Role), Content: e.Content})
	}
	messages = append(messages, api.Message{Role: "system", Content: turn.Instruction})
	return c.Client.Complete(ctx, messages)
}

// Brief is what the recruiter has said about the search so far.
type Brief struct {
	Role    string
	Company string
	Persona string
}

func (b Brief) Complete() bool {
	return b.Role != "" && b.Company != "" && b.Persona != ""
}

func (b Brief) missing() []string {
	var out []string
	if b.Role == "" {
		out = append(out, "the role")
	}
	if b.Company == "" {
		out = append(out, "the company")
	}
	if b.Persona == "" {
		out = append(out, "the ideal candidate")
	}
	return out
}

var (
	briefPattern   = regexp.MustCompile(`(?i)\b(?:hire|hiring|recruit|recruiting|sequence for)\s+(?:an?\s+)?(.+?)\s+at\s+([^,.;]+?)(?:\s*[,.;]|\s+(?:who|with|targeting)\b|$)`)
	personaPattern = regexp.MustCompile(`(?i)\b(?:persona:|targeting|ideal candidate is|who (?:are|is|have|has))\s*(.+?)\.?$`)
	renamePattern  = regexp.MustCompile(`(?i)\brename\b(?:\s+(?:it|this|the sequence))?\s+to\s+["']?(.+?)["']?\.?$`)
)

// ParseBrief extracts role, company and candidate persona from free text.
// Fields that are not mentioned stay empty.
func ParseBrief(text string) Brief {
	var b Brief
	text = strings.TrimSpace(text)
	if m := briefPattern.FindStringSubmatch(text); m != nil {
		b.Role = strings.TrimSpace(m[1])
		b.Company = strings.TrimSpace(m[2])
	}
	if m := personaPattern.FindStringSubmatch(text); m != nil {
		b.Persona = strings.TrimSpace(m[1])
	}
	return b
}

func (b Brief) merge(older Brief) Brief {
	if b.Role == "" {
		b.Role = older.Role
	}
	if b.Company == "" {
		b.Company = older.Company
	}
	if b.Persona == "" {
		b.Persona = older.Persona
	}
	return b
}

// GenerateSteps builds the default four-touch cadence for a brief.
func GenerateSteps(b Brief) []domain.OutreachStep {
	steps := []domain.OutreachStep{
		{
			Type:    domain.StepEmail,
			Timing:  "Day 1",
			Subject: fmt.Sprintf("%s opportunity at %s", b.Role, b.Company),
			Content: fmt.Sprintf("Hi {{first_name}},\n\nI'm reaching out because %s is hiring a %s and your background stood out. We're looking for %s.\n\nWould you be open to a short call this week?", b.Company, b.Role, b.Persona),
		},
		{
			Type:    domain.StepLinkedIn,
			Timing:  "Day 3",
			Content: fmt.Sprintf("Hi {{first_name}}, I sent you a note about the %s role at %s. Happy to share more details here if that's easier.", b.Role, b.Company),
		},
		{
			Type:    domain.StepEmail,
			Timing:  "Day 7",
			Subject: fmt.Sprintf("Following up: %s at %s", b.Role, b.Company),
			Content: fmt.Sprintf("Hi {{first_name}},\n\nFollowing up on my earlier message. The team at %s would love to hear what you're looking for next.\n\nBest,\n{{sender_name}}", b.Company),
		},
		{
			Type:    domain.StepPhone,
			Timing:  "Day 10",
			Content: fmt.Sprintf("Call to introduce the %s opening, confirm interest and book a first interview.", b.Role),
		},
	}
	for i := range steps {
		steps[i].StepNumber = i + 1
		steps[i].WaitTime = domain.Int(i)
	}
	return steps
}

type broadcaster interface {
	Broadcast(userID, event string, payload any)
}

// Assistant answers each user message: it may run one tool against the
// session's sequence, then writes a reply. Every change is broadcast.
type Assistant struct {
	store    *Store
	hub      broadcaster
	composer Composer
	metrics  *metrics
}

func newAssistant(store *Store, hub broadcaster, composer Composer, m *metrics) *Assistant {
	if composer == nil {
		composer = ScriptedComposer{}
	}
	return &Assistant{store: store, hub: hub, composer: composer, metrics: m}
}

type plan struct {
	tool  string
	brief Brief
	name  string
}

func planTurn(history []domain.ConversationEntry, text string, hasSequence bool) plan {
	if hasSequence {
		if m := renamePattern.FindStringSubmatch(text); m != nil {
			return plan{tool: toolUpdateSequence, name: strings.TrimSpace(m[1])}
		}
	}

	current := ParseBrief(text)
	if current.Role == "" && hasSequence {
		return plan{brief: current}
	}

	var earlier []string
	for _, e := range history {
		if e.Role == domain.RoleUser {
			earlier = append(earlier, e.Content)
		}
	}
	b := current.merge(ParseBrief(strings.Join(earlier, ". ")))
	if b.Complete() {
		return plan{tool: toolGenerateSequence, brief: b}
	}
	return plan{brief: b}
}

// Respond handles the newest user entry of a session.
func (a *Assistant) Respond(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, assistantTurn)
	defer cancel()

	session, err := a.store.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	last := len(session.Messages) - 1
	if last < 0 || session.Messages[last].Role != domain.RoleUser {
		return nil
	}
	text := session.Messages[last].Content

	p := planTurn(session.Messages[:last], text, session.CurrentSequenceID != "")
	turn := a.plainTurn(p.brief)

	if p.tool != "" {
		turn, err = a.runTool(ctx, session, p)
		if err != nil {
			a.metrics.assistantRuns.WithLabelValues("tool_failed").Inc()
			config.Log.Warn("assistant tool failed", zap.String("session_id", sessionID), zap.String("tool", p.tool), zap.Error(err))
		}
	}

	reply, err := a.composer.Compose(ctx, session.Messages, turn)
	if err != nil {
		config.Log.Warn("assistant reply failed", zap.String("session_id", sessionID), zap.Error(err))
		reply = apologyReply
	}

	entry, err := a.store.AddMessage(ctx, sessionID, domain.RoleAssistant, reply, nil)
	if err != nil {
		a.metrics.assistantRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("save reply: %w", err)
	}
	a.hub.Broadcast(session.UserID, transport.WireMessage, entry)
	a.metrics.assistantRuns.WithLabelValues("ok").Inc()
	return nil
}

func (a *Assistant) plainTurn(b Brief) Turn {
	missing := b.missing()
	if len(missing) == 0 {
		return Turn{
			Instruction: "Answer the recruiter's latest message briefly.",
			Draft:       "Tell me what you'd like to change in the sequence, or describe a new search to start another one.",
		}
	}
	ask := strings.Join(missing, " and ")
	return Turn{
		Instruction: "Ask the recruiter for " + ask + " so you can draft an outreach sequence.",
		Draft:       fmt.Sprintf("Happy to help with outreach. Could you tell me %s?", ask),
	}
}

// runTool records the invocation as an entry, executes it and completes
// the entry in place. The returned turn describes the outcome either way.
func (a *Assistant) runTool(ctx context.Context, session *domain.Session, p plan) (Turn, error) {
	entry, err := a.store.AddMessage(ctx, session.ID, domain.RoleAssistant, toolPreamble,
		&domain.ToolInvocation{Name: p.tool, Status: domain.ToolInvoking})
	if err != nil {
		return Turn{Instruction: "Apologize for an internal error.", Draft: apologyReply}, err
	}
	a.hub.Broadcast(session.UserID, transport.WireToolCall, entry)

	var result string
	switch p.tool {
	case toolGenerateSequence:
		result, err = a.generateSequence(ctx, session, p.brief)
	case toolUpdateSequence:
		result, err = a.renameSequence(ctx, session, p.name)
	default:
		err = fmt.Errorf("unknown tool %q", p.tool)
	}

	tc := &domain.ToolInvocation{Name: p.tool, Status: domain.ToolCompleted, Result: result}
	if err != nil {
		tc.Status = domain.ToolFailed
		tc.Result = err.Error()
	}

	done, uerr := a.store.UpdateToolCall(ctx, entry.ID, tc)
	if uerr != nil {
		return Turn{Instruction: "Apologize for an internal error.", Draft: apologyReply}, errors.Join(err, uerr)
	}
	a.hub.Broadcast(session.UserID, transport.WireToolCall, done)

	if err != nil {
		return Turn{
			Instruction: "The tool failed with: " + err.Error() + ". Apologize and suggest trying again.",
			Draft:       "Sorry, I couldn't update the sequence: " + err.Error(),
		}, err
	}
	return Turn{
		Instruction: "The tool succeeded: " + result + ". Summarize what changed and offer to refine it.",
		Draft:       result + ". Take a look in the workspace and tell me what to adjust.",
	}, nil
}

func (a *Assistant) generateSequence(ctx context.Context, session *domain.Session, b Brief) (string, error) {
	name := fmt.Sprintf("%s at %s Outreach", b.Role, b.Company)
	fields := domain.SequencePatch{
		Name:             domain.String(name),
		CompanyName:      domain.String(b.Company),
		RoleName:         domain.String(b.Role),
		CandidatePersona: domain.String(b.Persona),
	}

	seq, err := a.store.CreateSequence(ctx, session.UserID, fields, GenerateSteps(b))
	if err != nil {
		return "", err
	}
	if err := a.store.SetCurrentSequence(ctx, session.ID, seq.ID); err != nil {
		return "", err
	}
	a.hub.Broadcast(session.UserID, transport.WireSequenceCreated, seq)

	return fmt.Sprintf("Created outreach sequence '%s' with %d steps", seq.Name, len(seq.Steps)), nil
}

func (a *Assistant) renameSequence(ctx context.Context, session *domain.Session, name string) (string, error) {
	seq, err := a.store.UpdateSequence(ctx, session.CurrentSequenceID, domain.SequencePatch{Name: domain.String(name)})
	if err != nil {
		return "", err
	}
	a.hub.Broadcast(session.UserID, transport.WireSequenceUpdate, seq)
	return fmt.Sprintf("Renamed sequence to '%s'", seq.Name), nil
}
