package intel

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/teemow/mailtriage/internal/logging"
	"github.com/teemow/mailtriage/internal/store"
)

const toneKey = "tone_profiles"

// Categorical fields are replaced wholesale while a profile has fewer than
// this many samples, so early observations settle quickly.
const toneFastLearnSamples = 3

// ToneProfile captures how the user writes to a recipient scope.
type ToneProfile struct {
	Formality     string `json:"formality"`
	Greeting      string `json:"greeting"`
	Closing       string `json:"closing"`
	AvgLength     int    `json:"avg_length"`
	UsesEmoji     bool   `json:"uses_emoji"`
	SentenceStyle string `json:"sentence_style"`
	Samples       int    `json:"samples"`
}

func defaultToneProfile() *ToneProfile {
	return &ToneProfile{
		Formality:     "neutral",
		Greeting:      "Hi",
		Closing:       "Best regards",
		AvgLength:     100,
		SentenceStyle: "medium",
	}
}

type toneProfiles struct {
	ByRecipient map[string]*ToneProfile `json:"by_recipient"`
	ByDomain    map[string]*ToneProfile `json:"by_domain"`
	Global      *ToneProfile            `json:"global"`
}

// ToneLearner learns the user's writing style from sent mail, scoped per
// recipient, per domain and globally.
type ToneLearner struct {
	repo   store.Repository
	logger *slog.Logger

	mu       sync.Mutex
	profiles toneProfiles
}

// NewToneLearner loads persisted profiles, starting with defaults when none
// exist.
func NewToneLearner(repo store.Repository, logger *slog.Logger) *ToneLearner {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ToneLearner{repo: repo, logger: logger}
	if err := repo.Get(toneKey, &l.profiles); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to load tone profiles", logging.Err(err))
	}
	if l.profiles.ByRecipient == nil {
		l.profiles.ByRecipient = make(map[string]*ToneProfile)
	}
	if l.profiles.ByDomain == nil {
		l.profiles.ByDomain = make(map[string]*ToneProfile)
	}
	if l.profiles.Global == nil {
		l.profiles.Global = defaultToneProfile()
	}
	return l
}

func (l *ToneLearner) save() {
	if err := l.repo.Put(toneKey, &l.profiles); err != nil {
		l.logger.Error("failed to save tone profiles", logging.Err(err))
	}
}

// LearnFromSentEmail updates the recipient, domain and global profiles from
// one sent message body.
func (l *ToneLearner) LearnFromSentEmail(to, subject, body string) {
	recipient := senderKey(to)
	domain := domainOf(recipient)
	observed := analyzeBody(body)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.profiles.ByRecipient[recipient] == nil {
		l.profiles.ByRecipient[recipient] = defaultToneProfile()
	}
	mergeProfile(l.profiles.ByRecipient[recipient], observed)

	if domain != "" {
		if l.profiles.ByDomain[domain] == nil {
			l.profiles.ByDomain[domain] = defaultToneProfile()
		}
		mergeProfile(l.profiles.ByDomain[domain], observed)
	}

	mergeProfile(l.profiles.Global, observed)
	l.save()
}

// ToneForRecipient resolves the most specific profile with samples:
// recipient, then domain, then global.
func (l *ToneLearner) ToneForRecipient(to string) ToneProfile {
	recipient := senderKey(to)
	domain := domainOf(recipient)

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.profiles.ByRecipient[recipient]; ok && p.Samples > 0 {
		return *p
	}
	if p, ok := l.profiles.ByDomain[domain]; ok && p.Samples > 0 {
		return *p
	}
	return *l.profiles.Global
}

// DraftWithTone wraps content in the learned greeting and closing for the
// recipient.
func (l *ToneLearner) DraftWithTone(to, content string) string {
	tone := l.ToneForRecipient(to)

	recipient := senderKey(to)
	name := recipient
	if i := strings.Index(recipient, "@"); i >= 0 {
		name = recipient[:i]
	}
	name = titleWords(strings.ReplaceAll(name, ".", " "))

	var parts []string
	switch tone.Greeting {
	case "Hi", "Hello", "Hey":
		parts = append(parts, tone.Greeting+" "+name+",")
	default:
		parts = append(parts, tone.Greeting+",")
	}
	parts = append(parts, "", content, "")

	closing := tone.Closing
	if tone.UsesEmoji && tone.Formality == "casual" {
		closing += " 🙂"
	}
	parts = append(parts, closing)

	return strings.Join(parts, "\n")
}

var knownClosings = []string{"Best regards", "Best", "Thanks", "Thank you", "Sincerely", "Cheers", "Regards"}

var formalIndicators = []string{"dear", "sincerely", "regards", "respectfully"}
var casualIndicators = []string{"hey", "thanks", "cheers", "lol"}

// analyzeBody extracts the tone characteristics of one message body.
func analyzeBody(body string) *ToneProfile {
	profile := defaultToneProfile()
	lines := strings.Split(strings.TrimSpace(body), "\n")

	first := strings.TrimSpace(lines[0])
	for _, prefix := range []string{"Hi", "Hello", "Hey", "Dear"} {
		if strings.HasPrefix(first, prefix) {
			if comma := strings.Index(first, ","); comma >= 0 {
				profile.Greeting = first[:comma]
			} else if fields := strings.Fields(first); len(fields) > 0 {
				profile.Greeting = fields[0]
			}
			break
		}
	}

	for i := len(lines) - 1; i >= 0 && i > len(lines)-5; i-- {
		line := strings.TrimSpace(lines[i])
		for _, closing := range knownClosings {
			if line == closing {
				profile.Closing = closing
				break
			}
		}
		if profile.Closing != defaultToneProfile().Closing {
			break
		}
	}

	profile.UsesEmoji = containsEmoji(body)

	lower := strings.ToLower(body)
	formal, casual := 0, 0
	for _, word := range formalIndicators {
		if strings.Contains(lower, word) {
			formal++
		}
	}
	for _, word := range casualIndicators {
		if strings.Contains(lower, word) {
			casual++
		}
	}
	switch {
	case formal > casual:
		profile.Formality = "formal"
	case casual > formal:
		profile.Formality = "casual"
	default:
		profile.Formality = "neutral"
	}

	profile.AvgLength = len(body)

	sentences := strings.Split(body, ".")
	words := 0
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}
	avgSentenceLen := float64(words) / float64(len(sentences))
	switch {
	case avgSentenceLen < 10:
		profile.SentenceStyle = "short"
	case avgSentenceLen > 20:
		profile.SentenceStyle = "long"
	default:
		profile.SentenceStyle = "medium"
	}

	return profile
}

func containsEmoji(s string) bool {
	for _, r := range s {
		if (r >= 0x1F300 && r <= 0x1F5FF) ||
			(r >= 0x1F600 && r <= 0x1F64F) ||
			(r >= 0x1F680 && r <= 0x1F6FF) {
			return true
		}
	}
	return false
}

// mergeProfile folds one observation into an existing profile.
func mergeProfile(existing, observed *ToneProfile) {
	weightOld := float64(existing.Samples) / float64(existing.Samples+1)
	weightNew := 1.0 / float64(existing.Samples+1)
	existing.AvgLength = int(float64(existing.AvgLength)*weightOld + float64(observed.AvgLength)*weightNew)

	if existing.Samples < toneFastLearnSamples {
		existing.Greeting = observed.Greeting
		existing.Closing = observed.Closing
		existing.Formality = observed.Formality
		existing.SentenceStyle = observed.SentenceStyle
	}

	existing.UsesEmoji = existing.UsesEmoji || observed.UsesEmoji
	existing.Samples++
}

func titleWords(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}
