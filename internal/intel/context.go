package intel

import (
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/mailtriage/internal/connector"
)

// Recommended actions, most to least urgent.
const (
	ActionScheduleMeeting       = "schedule_meeting"
	ActionRespondImmediately    = "respond_immediately"
	ActionReviewImmediately     = "review_immediately"
	ActionProcessCalendarInvite = "process_calendar_invite"
	ActionRespondSoon           = "respond_soon"
	ActionRespondWhenAvailable  = "respond_when_available"
	ActionAutoFile              = "auto_file"
	ActionReviewLater           = "review_later"
)

// Contact is the slice of an address-book entry the analysis needs.
type Contact struct {
	Name  string
	Tags  []string
	Notes string
}

// ContactResolver looks up a known contact by email address. The contact
// store itself lives outside this package.
type ContactResolver interface {
	ContactByEmail(email string) (*Contact, bool)
}

// PriorityInfo is the priority slice of an analysis.
type PriorityInfo struct {
	Score             float64 `json:"score"`
	Level             string  `json:"level"`
	NotifyImmediately bool    `json:"notify_immediately"`
}

// ContactInfo describes the sender's relationship to the user.
type ContactInfo struct {
	Known        bool   `json:"known"`
	Name         string `json:"name,omitempty"`
	Relationship string `json:"relationship"`
}

// ContentFlags are boolean signals derived from subject and body text.
type ContentFlags struct {
	HasCalendarInvite bool `json:"has_calendar_invite"`
	HasMeetingRequest bool `json:"has_meeting_request"`
	IsForwarded       bool `json:"is_forwarded"`
	IsReply           bool `json:"is_reply"`
	HasQuestion       bool `json:"has_question"`
	RequestsAction    bool `json:"requests_action"`
	IsAutomated       bool `json:"is_automated"`
	HasDeadline       bool `json:"has_deadline"`
}

// Analysis is the aggregated context for one message.
type Analysis struct {
	EmailID            string              `json:"email_id"`
	AccountID          string              `json:"account_id"`
	Sender             string              `json:"sender"`
	Subject            string              `json:"subject"`
	AnalyzedAt         time.Time           `json:"analyzed_at"`
	Priority           PriorityInfo        `json:"priority"`
	SenderInsight      SenderInsight       `json:"sender_insights"`
	Contact            ContactInfo         `json:"contact"`
	CategorySuggestion *CategorySuggestion `json:"category_suggestion,omitempty"`
	ContentFlags       ContentFlags        `json:"content_flags"`
	RecommendedAction  string              `json:"recommended_action"`
	ReplyFromAccount   string              `json:"reply_from_account"`
}

// ContextEngine is the single aggregation point: priority, sender history,
// contact relationship, category suggestion and content flags combine into
// one recommended action.
type ContextEngine struct {
	priority   *PriorityEngine
	categories *CategoryLearner
	contacts   ContactResolver
	logger     *slog.Logger
	now        func() time.Time
}

// NewContextEngine wires the engines together. contacts may be nil when no
// address book is available.
func NewContextEngine(priority *PriorityEngine, categories *CategoryLearner, contacts ContactResolver, logger *slog.Logger) *ContextEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextEngine{
		priority:   priority,
		categories: categories,
		contacts:   contacts,
		logger:     logger,
		now:        time.Now,
	}
}

// Analyze builds the full context for one message received on accountID.
func (e *ContextEngine) Analyze(msg connector.MailMessage, accountID string) *Analysis {
	score := e.priority.CalculatePriority(msg)

	analysis := &Analysis{
		EmailID:    msg.ID,
		AccountID:  accountID,
		Sender:     msg.From,
		Subject:    msg.Subject,
		AnalyzedAt: e.now(),
		Priority: PriorityInfo{
			Score:             score,
			Level:             priorityLevel(score),
			NotifyImmediately: score >= notifyThreshold,
		},
		SenderInsight:      e.priority.SenderInsights(msg.From),
		Contact:            e.resolveContact(msg.From),
		CategorySuggestion: e.categories.SuggestCategory(msg),
		ContentFlags:       analyzeContent(msg.Subject, msg.Preview),
		ReplyFromAccount:   accountID,
	}
	analysis.RecommendedAction = recommendAction(analysis)
	return analysis
}

func priorityLevel(score float64) string {
	switch {
	case score >= 8.0:
		return "urgent"
	case score >= 6.5:
		return "high"
	case score >= 4.5:
		return "normal"
	default:
		return "low"
	}
}

func (e *ContextEngine) resolveContact(from string) ContactInfo {
	if e.contacts == nil {
		return ContactInfo{Relationship: "unknown"}
	}
	contact, ok := e.contacts.ContactByEmail(senderKey(from))
	if !ok {
		return ContactInfo{Relationship: "unknown"}
	}
	return ContactInfo{
		Known:        true,
		Name:         contact.Name,
		Relationship: relationship(contact),
	}
}

func relationship(contact *Contact) string {
	notes := strings.ToLower(contact.Notes)
	hasTag := func(tag string) bool {
		for _, t := range contact.Tags {
			if t == tag {
				return true
			}
		}
		return false
	}

	switch {
	case hasTag("family") || strings.Contains(notes, "family"):
		return "family"
	case hasTag("work") || strings.Contains(notes, "colleague"):
		return "work"
	case hasTag("friend"):
		return "personal"
	default:
		return "acquaintance"
	}
}

func analyzeContent(subject, body string) ContentFlags {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)
	combined := subjectLower + " " + bodyLower

	containsAny := func(s string, words ...string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}

	questionWindow := body
	if len(questionWindow) > 500 {
		questionWindow = questionWindow[:500]
	}

	return ContentFlags{
		HasCalendarInvite: strings.Contains(body, ".ics") || strings.Contains(combined, "calendar"),
		HasMeetingRequest: containsAny(combined, "meeting", "schedule"),
		IsForwarded:       strings.HasPrefix(subjectLower, "fwd:") || strings.HasPrefix(subjectLower, "fw:"),
		IsReply:           strings.HasPrefix(subjectLower, "re:"),
		HasQuestion:       strings.Contains(subject, "?") || strings.Contains(questionWindow, "?"),
		RequestsAction:    containsAny(combined, "please", "could you", "can you", "action required"),
		IsAutomated:       containsAny(combined, "do not reply", "automated", "no-reply"),
		HasDeadline:       containsAny(combined, "deadline", "due date", "by end of"),
	}
}

// recommendAction maps the aggregated context to one action via an ordered
// decision table.
func recommendAction(a *Analysis) string {
	flags := a.ContentFlags

	if a.Priority.Score >= notifyThreshold {
		switch {
		case flags.HasMeetingRequest:
			return ActionScheduleMeeting
		case flags.RequestsAction:
			return ActionRespondImmediately
		default:
			return ActionReviewImmediately
		}
	}

	if flags.HasCalendarInvite {
		return ActionProcessCalendarInvite
	}

	if a.SenderInsight.ShouldPrioritize &&
		a.SenderInsight.AvgResponseSeconds > 0 &&
		a.SenderInsight.AvgResponseSeconds < 3600 {
		return ActionRespondSoon
	}

	if flags.HasQuestion && !flags.IsAutomated {
		return ActionRespondWhenAvailable
	}

	if flags.IsAutomated {
		return ActionAutoFile
	}

	return ActionReviewLater
}
