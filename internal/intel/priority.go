package intel

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/logging"
	"github.com/teemow/mailtriage/internal/store"
)

const priorityKey = "priority_patterns"

// Scoring constants. Sender history dominates; domain and keyword signals
// move slowly.
const (
	baseScore       = 5.0
	senderDecay     = 0.8
	broadDecay      = 0.9
	senderWeight    = 0.4
	domainWeight    = 0.2
	keywordWeight   = 0.1
	urgencyBoost    = 2.0
	meetingBoost    = 1.5
	replyBoost      = 1.0
	notifyThreshold = 8.0

	maxResponseSamples = 10
	maxLearnKeywords   = 5
)

var urgencyKeywords = []string{"urgent", "asap", "immediate", "important", "critical"}

// Observed user actions and their learning deltas.
var actionScores = map[string]float64{
	"opened_immediately":  3.0,
	"starred":             2.5,
	"replied_fast":        3.0,
	"opened_within_hour":  1.5,
	"opened_within_day":   0.5,
	"ignored_week":        -1.0,
	"deleted_immediately": -2.0,
}

type scoreEntry struct {
	Score float64 `json:"score"`
	Count int     `json:"count"`
}

type priorityPatterns struct {
	Senders       map[string]*scoreEntry `json:"senders"`
	Domains       map[string]*scoreEntry `json:"domains"`
	Keywords      map[string]*scoreEntry `json:"keywords"`
	ResponseTimes map[string][]float64   `json:"response_times"`
}

// SenderInsight summarizes what has been learned about one sender.
type SenderInsight struct {
	Known              bool    `json:"known"`
	PriorityScore      float64 `json:"priority_score,omitempty"`
	EmailCount         int     `json:"email_count,omitempty"`
	AvgResponseSeconds float64 `json:"avg_response_time_seconds,omitempty"`
	ShouldPrioritize   bool    `json:"should_prioritize,omitempty"`
}

// PriorityEngine learns which senders, domains and subject keywords the user
// treats as urgent.
type PriorityEngine struct {
	repo   store.Repository
	logger *slog.Logger

	mu       sync.Mutex
	patterns priorityPatterns
}

// NewPriorityEngine loads persisted patterns from the repository, starting
// empty when none exist.
func NewPriorityEngine(repo store.Repository, logger *slog.Logger) *PriorityEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &PriorityEngine{repo: repo, logger: logger}
	if err := repo.Get(priorityKey, &e.patterns); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to load priority patterns", logging.Err(err))
	}
	if e.patterns.Senders == nil {
		e.patterns.Senders = make(map[string]*scoreEntry)
	}
	if e.patterns.Domains == nil {
		e.patterns.Domains = make(map[string]*scoreEntry)
	}
	if e.patterns.Keywords == nil {
		e.patterns.Keywords = make(map[string]*scoreEntry)
	}
	if e.patterns.ResponseTimes == nil {
		e.patterns.ResponseTimes = make(map[string][]float64)
	}
	return e
}

func (e *PriorityEngine) save() {
	if err := e.repo.Put(priorityKey, &e.patterns); err != nil {
		e.logger.Error("failed to save priority patterns", logging.Err(err))
	}
}

func updateEntry(entries map[string]*scoreEntry, key string, delta, decay float64) {
	entry, ok := entries[key]
	if !ok {
		entry = &scoreEntry{Score: baseScore}
		entries[key] = entry
	}
	entry.Count++
	entry.Score = entry.Score*decay + delta*(1-decay)
}

// LearnFromAction folds one observed user action into the patterns.
// timeToAction is how long the user took; zero means unknown.
func (e *PriorityEngine) LearnFromAction(msg connector.MailMessage, action string, timeToAction time.Duration) {
	sender := senderKey(msg.From)
	domain := domainOf(sender)
	delta := actionScores[action]

	e.mu.Lock()
	defer e.mu.Unlock()

	if sender != "" {
		updateEntry(e.patterns.Senders, sender, delta, senderDecay)
	}
	if domain != "" {
		updateEntry(e.patterns.Domains, domain, delta, broadDecay)
	}
	for _, keyword := range subjectKeywords(msg.Subject, maxLearnKeywords) {
		updateEntry(e.patterns.Keywords, keyword, delta, broadDecay)
	}

	if timeToAction > 0 && (action == "replied_fast" || action == "opened_immediately") {
		samples := append(e.patterns.ResponseTimes[sender], timeToAction.Seconds())
		if len(samples) > maxResponseSamples {
			samples = samples[len(samples)-maxResponseSamples:]
		}
		e.patterns.ResponseTimes[sender] = samples
	}

	e.save()
}

// CalculatePriority scores a message in [0, 10]; higher means more urgent.
func (e *PriorityEngine) CalculatePriority(msg connector.MailMessage) float64 {
	sender := senderKey(msg.From)
	domain := domainOf(sender)
	subject := strings.ToLower(msg.Subject)

	e.mu.Lock()
	defer e.mu.Unlock()

	score := baseScore
	if entry, ok := e.patterns.Senders[sender]; ok {
		score += (entry.Score - baseScore) * senderWeight
	}
	if entry, ok := e.patterns.Domains[domain]; ok {
		score += (entry.Score - baseScore) * domainWeight
	}
	for _, keyword := range subjectKeywords(msg.Subject, 0) {
		if entry, ok := e.patterns.Keywords[keyword]; ok {
			score += (entry.Score - baseScore) * keywordWeight
		}
	}

	for _, kw := range urgencyKeywords {
		if strings.Contains(subject, kw) {
			score += urgencyBoost
			break
		}
	}
	if strings.Contains(subject, "invite") || strings.Contains(subject, "meeting") || strings.Contains(subject, "calendar") {
		score += meetingBoost
	}
	if strings.HasPrefix(subject, "re:") {
		score += replyBoost
	}

	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// ShouldNotifyImmediately reports whether the message crosses the
// notify-immediately threshold.
func (e *PriorityEngine) ShouldNotifyImmediately(msg connector.MailMessage) bool {
	return e.CalculatePriority(msg) >= notifyThreshold
}

// SenderInsights returns the learned profile of a sender.
func (e *PriorityEngine) SenderInsights(from string) SenderInsight {
	sender := senderKey(from)

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.patterns.Senders[sender]
	if !ok {
		return SenderInsight{}
	}

	insight := SenderInsight{
		Known:            true,
		PriorityScore:    entry.Score,
		EmailCount:       entry.Count,
		ShouldPrioritize: entry.Score > 7.0,
	}
	if samples := e.patterns.ResponseTimes[sender]; len(samples) > 0 {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		insight.AvgResponseSeconds = sum / float64(len(samples))
	}
	return insight
}
