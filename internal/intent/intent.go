package intent

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
)

// Label is one of the fixed intent categories.
type Label int

// Labels in declaration order. The order doubles as the tie-break priority.
const (
	General Label = iota
	CodingDev
	Troubleshooting
	Planning
	MusicAudio
	LegalBusiness
	FileOps
	MemoryRecall

	labelCount
)

var labelNames = [labelCount]string{
	"general",
	"coding/dev",
	"troubleshooting",
	"planning",
	"music/audio",
	"legal/business",
	"file_ops",
	"memory_recall",
}

// Labels returns every label in declaration order.
func Labels() []Label {
	out := make([]Label, labelCount)
	for i := range out {
		out[i] = Label(i)
	}
	return out
}

// String returns the wire name of the label.
func (l Label) String() string {
	if l < 0 || l >= labelCount {
		return "general"
	}
	return labelNames[l]
}

// ParseLabel maps a wire name back to its label.
func ParseLabel(name string) (Label, bool) {
	for i, n := range labelNames {
		if n == name {
			return Label(i), true
		}
	}
	return General, false
}

// Weights is a distribution over all labels.
type Weights [labelCount]float64

// Get returns the weight of a label.
func (w Weights) Get(l Label) float64 {
	if l < 0 || l >= labelCount {
		return 0
	}
	return w[l]
}

// Sum adds all weights.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Map renders the weights keyed by label name.
func (w Weights) Map() map[string]float64 {
	out := make(map[string]float64, labelCount)
	for i, v := range w {
		out[labelNames[i]] = v
	}
	return out
}

// MarshalJSON encodes the weights as an object keyed by label name.
func (w Weights) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Map())
}

// UnmarshalJSON decodes an object keyed by label name. Unknown keys are ignored.
func (w *Weights) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*w = Weights{}
	for name, v := range raw {
		if l, ok := ParseLabel(name); ok {
			w[l] = v
		}
	}
	return nil
}

// Ranked is a label with its normalized weight.
type Ranked struct {
	Label Label
	Score float64
}

// Signal is the classifier output for one piece of text.
type Signal struct {
	Primary        Ranked
	Secondary      *Ranked
	Weights        Weights
	IsPrivate      bool
	WantsWebSearch bool
	WantsTools     bool
}

var rules = map[Label][]*regexp.Regexp{
	CodingDev: {
		regexp.MustCompile("```"),
		regexp.MustCompile(`(?i)\b(function|class|typescript|javascript|python|java|kotlin|golang|rust|sql|regex)\b`),
		regexp.MustCompile(`(?i)\b(src/|package\.json|npm|gradle|build|compile|refactor|api|backend|frontend)\b`),
		regexp.MustCompile(`(?i)\b(stack trace|traceback|exception|error:|failed|failing|broken)\b`),
	},
	Troubleshooting: {
		regexp.MustCompile(`(?i)\bdebug|troubleshoot|investigate|root cause|fix build|not working|fails\b`),
		regexp.MustCompile(`(?i)\b422\b|\b502\b|\b404\b|\b500\b`),
		regexp.MustCompile(`(?i)\bcrash|hang|timeout|deadlock|regression\b`),
	},
	Planning: {
		regexp.MustCompile(`(?i)\bplan|roadmap|milestone|phase|timeline|priorit|scope|estimate\b`),
	},
	MusicAudio: {
		regexp.MustCompile(`(?i)\bmix|master|lufs|eq|compressor|reverb|track|stem|bpm|audio\b`),
	},
	LegalBusiness: {
		regexp.MustCompile(`(?i)\bcontract|invoice|nda|llc|tax|liability|terms|policy|compliance\b`),
	},
	FileOps: {
		regexp.MustCompile(`(?i)\bfile|folder|directory|scan|import|export|upload|download|vault\b`),
	},
	MemoryRecall: {
		regexp.MustCompile(`(?i)\bremember|recall|memory|vault|earlier|last time|what did i say\b`),
	},
}

var (
	sequencingPattern = regexp.MustCompile(`(?i)\b(step|steps|first|then|after)\b`)
	buildPattern      = regexp.MustCompile(`(?i)\b(scan repo|fix build|stack trace|error log)\b`)
	mixingPattern     = regexp.MustCompile(`(?i)\bmix|lufs|master|reference tracks\b`)
	newsPattern       = regexp.MustCompile(`(?i)\bsearch web|latest|today|news\b`)

	privatePattern   = regexp.MustCompile(`(?i)\b(private|confidential|secret|password|api key|personal|my docs|my files)\b`)
	webSearchPattern = regexp.MustCompile(`(?i)\b(web search|search web|browse|look up online|latest news)\b`)
)

// generalFloor is the starting raw weight of the general label.
const generalFloor = 0.2

// Detect classifies text into a normalized intent distribution.
func Detect(text string) Signal {
	var raw Weights
	raw[General] = generalFloor

	for _, l := range Labels() {
		for _, rule := range rules[l] {
			if rule.MatchString(text) {
				raw[l]++
			}
		}
	}

	if sequencingPattern.MatchString(text) {
		raw[Planning] += 0.4
	}
	if buildPattern.MatchString(text) {
		raw[CodingDev] += 0.8
		raw[Troubleshooting] += 0.8
	}
	if mixingPattern.MatchString(text) {
		raw[MusicAudio] += 0.9
	}
	if newsPattern.MatchString(text) {
		raw[General] += 0.2
	}

	weights := Normalize(raw)
	ranked := Rank(weights)

	sig := Signal{
		Primary:        ranked[0],
		Weights:        weights,
		IsPrivate:      privatePattern.MatchString(text),
		WantsWebSearch: webSearchPattern.MatchString(text),
		WantsTools: weights[FileOps] > 0.2 ||
			weights[CodingDev] > 0.4 ||
			weights[Troubleshooting] > 0.35,
	}
	if len(ranked) > 1 {
		second := ranked[1]
		sig.Secondary = &second
	}
	return sig
}

// Normalize rescales raw weights to sum to one. Non-finite and non-positive
// entries count as zero; an all-zero input collapses to general.
func Normalize(raw Weights) Weights {
	var out Weights
	sum := 0.0
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		out[i] = v
		sum += v
	}
	if sum <= 0 {
		return Weights{General: 1}
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Rank orders labels by descending weight, keeping declaration order on ties.
func Rank(w Weights) []Ranked {
	out := make([]Ranked, 0, labelCount)
	for _, l := range Labels() {
		out = append(out, Ranked{Label: l, Score: w[l]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
