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

const categoryKey = "category_rules"

// Confidence thresholds and weights for the three rule scopes.
const (
	senderConfidenceMin  = 0.7
	senderRuleWeight     = 0.6
	domainConfidenceMin  = 0.5
	domainRuleWeight     = 0.3
	patternRuleWeight    = 0.1
	suggestConfidenceMin = 0.6

	maxCorrections        = 1000
	maxCorrectionKeywords = 3
)

// Correction records one user override of a model verdict.
type Correction struct {
	Sender          string    `json:"sender"`
	Subject         string    `json:"subject"`
	AICategory      string    `json:"ai_category"`
	CorrectCategory string    `json:"correct_category"`
	Timestamp       time.Time `json:"timestamp"`
}

type categoryRules struct {
	SenderRules     map[string]map[string]int `json:"sender_rules"`
	DomainRules     map[string]map[string]int `json:"domain_rules"`
	SubjectPatterns map[string]map[string]int `json:"subject_patterns"`
	Corrections     []Correction              `json:"corrections"`
}

// CategorySuggestion is a learned-rule verdict with its aggregate confidence.
type CategorySuggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// CategoryLearner learns folder categories from user corrections and
// suggests one only when the aggregate confidence is high enough. Below the
// threshold the caller falls back to the model classifier.
type CategoryLearner struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	rules categoryRules
}

// NewCategoryLearner loads persisted rules, starting empty when none exist.
func NewCategoryLearner(repo store.Repository, logger *slog.Logger) *CategoryLearner {
	if logger == nil {
		logger = slog.Default()
	}
	l := &CategoryLearner{repo: repo, logger: logger, now: time.Now}
	if err := repo.Get(categoryKey, &l.rules); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to load category rules", logging.Err(err))
	}
	if l.rules.SenderRules == nil {
		l.rules.SenderRules = make(map[string]map[string]int)
	}
	if l.rules.DomainRules == nil {
		l.rules.DomainRules = make(map[string]map[string]int)
	}
	if l.rules.SubjectPatterns == nil {
		l.rules.SubjectPatterns = make(map[string]map[string]int)
	}
	return l
}

func (l *CategoryLearner) save() {
	if err := l.repo.Put(categoryKey, &l.rules); err != nil {
		l.logger.Error("failed to save category rules", logging.Err(err))
	}
}

func bump(rules map[string]map[string]int, key, category string) {
	if rules[key] == nil {
		rules[key] = make(map[string]int)
	}
	rules[key][category]++
}

// LearnFromCorrection folds a user correction into the rules. The correction
// history is capped; the oldest entries fall off.
func (l *CategoryLearner) LearnFromCorrection(msg connector.MailMessage, aiCategory, correctCategory string) {
	sender := senderKey(msg.From)
	domain := domainOf(sender)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rules.Corrections = append(l.rules.Corrections, Correction{
		Sender:          sender,
		Subject:         strings.ToLower(msg.Subject),
		AICategory:      aiCategory,
		CorrectCategory: correctCategory,
		Timestamp:       l.now(),
	})
	if len(l.rules.Corrections) > maxCorrections {
		l.rules.Corrections = l.rules.Corrections[len(l.rules.Corrections)-maxCorrections:]
	}

	if sender != "" {
		bump(l.rules.SenderRules, sender, correctCategory)
	}
	if domain != "" {
		bump(l.rules.DomainRules, domain, correctCategory)
	}
	for _, keyword := range subjectKeywords(msg.Subject, maxCorrectionKeywords) {
		bump(l.rules.SubjectPatterns, keyword, correctCategory)
	}

	l.save()
}

// LearnFromCategorization reinforces the rules with a model-produced
// category. Unlike a correction it leaves the correction history untouched.
func (l *CategoryLearner) LearnFromCategorization(msg connector.MailMessage, category string) {
	sender := senderKey(msg.From)
	domain := domainOf(sender)

	l.mu.Lock()
	defer l.mu.Unlock()

	if sender != "" {
		bump(l.rules.SenderRules, sender, category)
	}
	if domain != "" {
		bump(l.rules.DomainRules, domain, category)
	}
	for _, keyword := range subjectKeywords(msg.Subject, maxCorrectionKeywords) {
		bump(l.rules.SubjectPatterns, keyword, category)
	}

	l.save()
}

func scoreScope(scores map[string]float64, counts map[string]int, confidenceMin, weight float64) {
	total := 0
	for _, count := range counts {
		total += count
	}
	if total == 0 {
		return
	}
	for category, count := range counts {
		confidence := float64(count) / float64(total)
		if confidence > confidenceMin {
			scores[category] += confidence * weight
		}
	}
}

// SuggestCategory returns the best learned category, or nil when no scope
// pushes the aggregate confidence over the minimum.
func (l *CategoryLearner) SuggestCategory(msg connector.MailMessage) *CategorySuggestion {
	sender := senderKey(msg.From)
	domain := domainOf(sender)

	l.mu.Lock()
	defer l.mu.Unlock()

	scores := make(map[string]float64)
	if counts, ok := l.rules.SenderRules[sender]; ok {
		scoreScope(scores, counts, senderConfidenceMin, senderRuleWeight)
	}
	if counts, ok := l.rules.DomainRules[domain]; ok {
		scoreScope(scores, counts, domainConfidenceMin, domainRuleWeight)
	}
	for _, keyword := range subjectKeywords(msg.Subject, 0) {
		if counts, ok := l.rules.SubjectPatterns[keyword]; ok {
			scoreScope(scores, counts, 0, patternRuleWeight)
		}
	}

	best := ""
	bestScore := 0.0
	for category, score := range scores {
		if score > bestScore || (score == bestScore && category < best) {
			best = category
			bestScore = score
		}
	}
	if best == "" || bestScore <= suggestConfidenceMin {
		return nil
	}
	return &CategorySuggestion{Category: best, Confidence: bestScore, Source: "learned_rules"}
}

// SenderCategoryHistory returns the per-category correction counts for one
// sender.
func (l *CategoryLearner) SenderCategoryHistory(from string) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := make(map[string]int)
	for category, count := range l.rules.SenderRules[senderKey(from)] {
		history[category] = count
	}
	return history
}
